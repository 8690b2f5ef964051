package tui

// TaskItem is a summary of a task for the list view
type TaskItem struct {
	ID          string
	Description string
	Status      string
	Attempt     int
	LastScore   *int
}

// TaskDetail is the full task information
type TaskDetail struct {
	ID          string
	Description string
	Scope       string
	Priority    int
	Status      string
	Attempt     int
	LastScore   *int
	LastNotes   string
	CreatedAt   string
	UpdatedAt   string
}

// ReviewDetail represents one sentinel review
type ReviewDetail struct {
	Attempt  int
	Score    int
	Notes    string
	Reviewer string
}
