package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage factory tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Submit a new task to the factory",
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var taskResubmitCmd = &cobra.Command{
	Use:   "resubmit [task-id]",
	Short: "Resubmit a task (no-op with stored result if already completed)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskResubmit,
}

var taskReviewsCmd = &cobra.Command{
	Use:   "reviews [task-id]",
	Short: "Show sentinel review history for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskReviews,
}

var (
	taskDesc     string
	taskScope    string
	taskPriority int
	taskStatus   string
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskCancelCmd, taskResubmitCmd, taskReviewsCmd)

	taskAddCmd.Flags().StringVar(&taskDesc, "desc", "", "Task description (required)")
	taskAddCmd.Flags().StringVar(&taskScope, "scope", "", "Target scope (affected files or area)")
	taskAddCmd.Flags().IntVar(&taskPriority, "priority", 0, "Priority tie-break (higher first)")
	taskAddCmd.MarkFlagRequired("desc")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (pending, leased, acting, reviewing, completed, escalated, cancelled)")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"description": taskDesc,
		"scope":       taskScope,
		"priority":    taskPriority,
	}

	resp, err := apiPost("/tasks", body)
	if err != nil {
		return err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	fmt.Printf("Created task: %s\n", result["id"])
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	url := "/tasks"
	if taskStatus != "" {
		url += "?status=" + taskStatus
	}

	resp, err := apiGet(url)
	if err != nil {
		return err
	}

	var tasks []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Status      string `json:"status"`
		Attempt     int    `json:"attempt"`
		LastScore   *int   `json:"last_score"`
	}
	if err := json.Unmarshal(resp, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDESCRIPTION\tSTATUS\tATTEMPT\tSCORE")
	for _, t := range tasks {
		score := "-"
		if t.LastScore != nil {
			score = fmt.Sprintf("%d", *t.LastScore)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", truncateID(t.ID), truncate(t.Description, 40), t.Status, t.Attempt, score)
	}
	w.Flush()
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0])
	if err != nil {
		return err
	}

	var task struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Scope       string `json:"scope"`
		Priority    int    `json:"priority"`
		Status      string `json:"status"`
		Attempt     int    `json:"attempt"`
		LastScore   *int   `json:"last_score"`
		LastNotes   string `json:"last_notes"`
		CreatedAt   string `json:"created_at"`
		UpdatedAt   string `json:"updated_at"`
	}
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", task.ID)
	fmt.Printf("Description: %s\n", task.Description)
	if task.Scope != "" {
		fmt.Printf("Scope:       %s\n", task.Scope)
	}
	fmt.Printf("Priority:    %d\n", task.Priority)
	fmt.Printf("Status:      %s\n", task.Status)
	fmt.Printf("Attempt:     %d\n", task.Attempt)
	if task.LastScore != nil {
		fmt.Printf("Last score:  %d\n", *task.LastScore)
	}
	if task.LastNotes != "" {
		fmt.Printf("Last notes:  %s\n", task.LastNotes)
	}
	fmt.Printf("Created:     %s\n", task.CreatedAt)
	fmt.Printf("Updated:     %s\n", task.UpdatedAt)
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/tasks/"+args[0]+"/cancel", map[string]string{})
	if err != nil {
		return err
	}

	var task map[string]interface{}
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("Cancelled task %s\n", args[0])
	return nil
}

func runTaskResubmit(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/tasks/"+args[0]+"/resubmit", map[string]string{})
	if err != nil {
		return err
	}

	var result struct {
		Reran  bool `json:"reran"`
		Result *struct {
			Payload string `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	if result.Reran {
		fmt.Printf("Requeued task %s\n", args[0])
	} else {
		fmt.Printf("Task %s already completed; stored result:\n", args[0])
		if result.Result != nil {
			fmt.Println(result.Result.Payload)
		}
	}
	return nil
}

func runTaskReviews(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0] + "/reviews")
	if err != nil {
		return err
	}

	var reviews []struct {
		Attempt  int    `json:"attempt"`
		Score    int    `json:"score"`
		Notes    string `json:"notes"`
		Reviewer string `json:"reviewer"`
	}
	if err := json.Unmarshal(resp, &reviews); err != nil {
		return err
	}

	if len(reviews) == 0 {
		fmt.Println("No reviews found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ATTEMPT\tSCORE\tREVIEWER\tNOTES")
	for _, r := range reviews {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", r.Attempt, r.Score, r.Reviewer, truncate(r.Notes, 60))
	}
	w.Flush()
	return nil
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
