package mocks

// Mock implementations used by tests
//go:generate mockgen -destination=./mock_repository.go -package=mocks github.com/mattetre/reservoir-indexer/internal/store TxBeginner,BulkCancelEventRepository,OrderUpdateOutboxRepository,OrderRepository,DailyVolumeRepository,AttributeRepository
