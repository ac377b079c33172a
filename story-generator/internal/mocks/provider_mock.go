package mocks

import (
	"context"

	"fairytale-server/story-generator/internal/provider"

	"github.com/stretchr/testify/mock"
)

type testingT interface {
	mock.TestingT
	Helper()
	Cleanup(func())
}

func usageArg(ret mock.Arguments, i int) provider.Usage {
	if u, ok := ret.Get(i).(provider.Usage); ok {
		return u
	}
	return provider.Usage{}
}

// MockTextClient is a mock type for the provider.TextClient type
type MockTextClient struct {
	mock.Mock
}

// GenerateStory provides a mock function with given fields: ctx, req
func (_m *MockTextClient) GenerateStory(ctx context.Context, req provider.TextRequest) (provider.TextResult, provider.Usage, error) {
	ret := _m.Called(ctx, req)
	if rf, ok := ret.Get(0).(func(context.Context, provider.TextRequest) (provider.TextResult, provider.Usage, error)); ok {
		return rf(ctx, req)
	}
	r0, _ := ret.Get(0).(provider.TextResult)
	return r0, usageArg(ret, 1), ret.Error(2)
}

// NewMockTextClient creates a new instance of MockTextClient and asserts expectations on cleanup.
func NewMockTextClient(t testingT) *MockTextClient {
	m := &MockTextClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockVisionClient is a mock type for the provider.VisionClient type
type MockVisionClient struct {
	mock.Mock
}

// DescribeImage provides a mock function with given fields: ctx, req
func (_m *MockVisionClient) DescribeImage(ctx context.Context, req provider.VisionRequest) (provider.VisionResult, provider.Usage, error) {
	ret := _m.Called(ctx, req)
	r0, _ := ret.Get(0).(provider.VisionResult)
	return r0, usageArg(ret, 1), ret.Error(2)
}

func NewMockVisionClient(t testingT) *MockVisionClient {
	m := &MockVisionClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockSpeechClient is a mock type for the provider.SpeechClient type
type MockSpeechClient struct {
	mock.Mock
}

// Synthesize provides a mock function with given fields: ctx, req
func (_m *MockSpeechClient) Synthesize(ctx context.Context, req provider.SpeechRequest) (provider.SpeechResult, provider.Usage, error) {
	ret := _m.Called(ctx, req)
	r0, _ := ret.Get(0).(provider.SpeechResult)
	return r0, usageArg(ret, 1), ret.Error(2)
}

func NewMockSpeechClient(t testingT) *MockSpeechClient {
	m := &MockSpeechClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockImageClient is a mock type for the provider.ImageClient type
type MockImageClient struct {
	mock.Mock
}

// GenerateImage provides a mock function with given fields: ctx, req
func (_m *MockImageClient) GenerateImage(ctx context.Context, req provider.ImageRequest) (provider.ImageResult, provider.Usage, error) {
	ret := _m.Called(ctx, req)
	if rf, ok := ret.Get(0).(func(context.Context, provider.ImageRequest) (provider.ImageResult, provider.Usage, error)); ok {
		return rf(ctx, req)
	}
	r0, _ := ret.Get(0).(provider.ImageResult)
	return r0, usageArg(ret, 1), ret.Error(2)
}

func NewMockImageClient(t testingT) *MockImageClient {
	m := &MockImageClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockTranscriptionClient is a mock type for the provider.TranscriptionClient type
type MockTranscriptionClient struct {
	mock.Mock
}

// Transcribe provides a mock function with given fields: ctx, req
func (_m *MockTranscriptionClient) Transcribe(ctx context.Context, req provider.TranscriptionRequest) (provider.TranscriptionResult, provider.Usage, error) {
	ret := _m.Called(ctx, req)
	r0, _ := ret.Get(0).(provider.TranscriptionResult)
	return r0, usageArg(ret, 1), ret.Error(2)
}

func NewMockTranscriptionClient(t testingT) *MockTranscriptionClient {
	m := &MockTranscriptionClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var (
	_ provider.TextClient          = (*MockTextClient)(nil)
	_ provider.VisionClient        = (*MockVisionClient)(nil)
	_ provider.SpeechClient        = (*MockSpeechClient)(nil)
	_ provider.ImageClient         = (*MockImageClient)(nil)
	_ provider.TranscriptionClient = (*MockTranscriptionClient)(nil)
)
