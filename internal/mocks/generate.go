// Package mocks provides mock implementations for testing the scout run system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockRunRepository(ctrl)
//	mockRepo.EXPECT().GetByID(gomock.Any(), gomock.Any()).Return(run, nil)
package mocks

// Generate mock for RunRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=run_repository_mock.go github.com/scoutline/scout-api/internal/core RunRepository

// Generate mock for ResultRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=result_repository_mock.go github.com/scoutline/scout-api/internal/core ResultRepository

// Generate mock for Analyzer interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=analyzer_mock.go github.com/scoutline/scout-api/internal/core Analyzer
