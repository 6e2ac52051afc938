package exam

import "context"

// ContentStore is the read side the resolver needs plus the publish calls
// used by seeding and admin tooling.
type ContentStore interface {
	GetTestDefinition(ctx context.Context, testID string) (TestDefinition, error)
	// GetQuestions returns the published questions of a static test in order.
	GetQuestions(ctx context.Context, testID string) ([]Question, error)
	// GetInstanceSnapshot fails with ErrNotYetMaterialized while the
	// instance has not been written yet, and with access denied when it
	// belongs to another user.
	GetInstanceSnapshot(ctx context.Context, instanceID, userID string) (InstanceSnapshot, error)
	GetLiveEvent(ctx context.Context, eventID string) (LiveEvent, error)

	PutTest(ctx context.Context, def TestDefinition, questions []Question) error
	PutInstance(ctx context.Context, inst InstanceSnapshot) error
	PutLiveEvent(ctx context.Context, ev LiveEvent) error
}
