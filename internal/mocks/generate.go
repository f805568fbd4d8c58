// Package mocks provides gomock implementations of the job queue ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	strategy := mocks.NewMockInspectableJobQueueStrategy(ctrl)
//	strategy.EXPECT().Next(gomock.Any(), "email", gomock.Any()).Return(nil, model.ErrNoJobsAvailable)
package mocks

// Storage strategy ports: Init, Destroy, Add, Next, Update (+ FindOne, FindMany, FindManyByID, RemoveSettledJobs).
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_queue_strategy_mock.go github.com/target/mmk-jobqueue/internal/core JobQueueStrategy
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=inspectable_job_queue_strategy_mock.go github.com/target/mmk-jobqueue/internal/core InspectableJobQueueStrategy

// Buffer ports: ID, Collect, Reduce and the storage behind them.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_buffer_mock.go github.com/target/mmk-jobqueue/internal/core JobBuffer
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_buffer_storage_strategy_mock.go github.com/target/mmk-jobqueue/internal/core JobBufferStorageStrategy

// Dispatcher port: Start, Stop, CancelJob.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_dispatcher_mock.go github.com/target/mmk-jobqueue/internal/core JobDispatcher
