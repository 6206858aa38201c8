package storage

import "context"

// Store is the persistence interface for the board.
// Implementations: *SQLiteStore (this package) and *postgres.Store.
type Store interface {
	Reader

	// WithTx runs fn inside one transaction. All writes made through tx
	// commit together, or none do when fn returns an error.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Jobs
	EnqueueJob(ctx context.Context, job Job) error
	ClaimNextJob(ctx context.Context, types []string) (*Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error

	Close() error
}

// Reader holds the read-model queries used by the board API.
type Reader interface {
	ListTasks(ctx context.Context) ([]Task, error)
	ListTasksUpdatedSince(ctx context.Context, since int64) ([]Task, error)
	GetTaskDetail(ctx context.Context, id string) (TaskDetail, error)
	ListAgents(ctx context.Context) ([]Agent, error)
	ListActivities(ctx context.Context, limit int) ([]Activity, error)
	ListChatMessages(ctx context.Context, limit int) ([]ChatMessage, error)
	ListDeliverables(ctx context.Context) ([]Deliverable, error)
	Stats(ctx context.Context) (Stats, error)
}

// Tx is the write surface available inside WithTx.
type Tx interface {
	GetTask(ctx context.Context, id string) (Task, error)
	InsertTask(ctx context.Context, t Task) error
	PatchTask(ctx context.Context, id string, p TaskPatch) error

	GetAgentByName(ctx context.Context, name string) (Agent, error)
	// InsertAgentIfAbsent inserts a unless an agent with the same name exists.
	// It reports whether a row was inserted.
	InsertAgentIfAbsent(ctx context.Context, a Agent) (bool, error)
	PatchAgentStatus(ctx context.Context, name string, status AgentStatus, seenAt int64) error

	InsertActivity(ctx context.Context, a Activity) error
	InsertChatMessage(ctx context.Context, m ChatMessage) error
	InsertDeliverable(ctx context.Context, d Deliverable) error
	InsertComment(ctx context.Context, c Comment) error
}
