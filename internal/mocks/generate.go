// Package mocks 存放 go.uber.org/mock 生成的测试替身
//
// 接口变更后重新生成：
//
//	go generate ./internal/mocks
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=sink_mock.go hookguard/internal/telemetry Sink
