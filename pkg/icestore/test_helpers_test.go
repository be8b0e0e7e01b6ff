package icestore

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// mockGCSWriter writes to an in-memory buffer.
type mockGCSWriter struct {
	buf      bytes.Buffer
	closed   bool
	closeErr error
	writeErr error
}

func (m *mockGCSWriter) Write(p []byte) (n int, err error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	return m.buf.Write(p)
}

func (m *mockGCSWriter) Close() error {
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return m.closeErr
}

// mockGCSObjectHandle hands out a fresh writer per NewWriter call, like a
// real object that is overwritten on every upload.
type mockGCSObjectHandle struct {
	mu       sync.Mutex
	writer   *mockGCSWriter
	attrs    ObjectAttrs
	writes   int
	closeErr error
	writeErr error
}

func (m *mockGCSObjectHandle) NewWriter(_ context.Context, attrs ObjectAttrs) GCSWriter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writer = &mockGCSWriter{closeErr: m.closeErr, writeErr: m.writeErr}
	m.attrs = attrs
	m.writes++
	return m.writer
}

// mockGCSBucketHandle stores created objects in a map.
type mockGCSBucketHandle struct {
	sync.Mutex
	objects  map[string]*mockGCSObjectHandle
	closeErr error
	writeErr error
}

func (m *mockGCSBucketHandle) Object(name string) GCSObjectHandle {
	m.Lock()
	defer m.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{closeErr: m.closeErr, writeErr: m.writeErr}
	}
	return m.objects[name]
}

// mockGCSClient serves a single bucket.
type mockGCSClient struct {
	bucket     *mockGCSBucketHandle
	bucketName string
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{bucket: &mockGCSBucketHandle{}}
}

func (m *mockGCSClient) Bucket(name string) GCSBucketHandle {
	m.bucketName = name
	return m.bucket
}
