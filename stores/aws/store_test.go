package aws

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"wallora-server/core"
)

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestSaveAndGet(t *testing.T) {
	fake := newFakeS3()
	store := newStore(fake, "walls")
	ctx := context.Background()

	session := &core.Session{UserID: "alice", Name: "Office", Data: []byte(`{"blocks":[]}`)}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if _, ok := fake.objects["sessions/"+session.ID+".json"]; !ok {
		t.Error("session object not written")
	}
	if _, ok := fake.objects["users/alice/"+session.ID]; !ok {
		t.Error("owner index marker not written")
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "Office" || string(got.Data) != `{"blocks":[]}` || got.Version != 1 {
		t.Errorf("Get() = %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newStore(newFakeS3(), "walls")
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get() = %v, want ErrNotFound", err)
	}
}

func TestGet_InvalidID(t *testing.T) {
	store := newStore(newFakeS3(), "walls")
	for _, id := range []string{"", "..", "../users/alice", "a/b"} {
		if _, err := store.Get(context.Background(), id); !errors.Is(err, core.ErrInvalidArgument) {
			t.Errorf("Get(%q) = %v, want ErrInvalidArgument", id, err)
		}
	}
}

func TestSave_VersionConflict(t *testing.T) {
	store := newStore(newFakeS3(), "walls")
	ctx := context.Background()

	session := &core.Session{UserID: "alice"}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := store.Save(ctx, &core.Session{ID: session.ID, UserID: "alice", Version: 2}); !errors.Is(err, core.ErrVersionConflict) {
		t.Errorf("Save() = %v, want ErrVersionConflict", err)
	}
}

func TestSave_PutError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	store := newStore(fake, "walls")

	if err := store.Save(context.Background(), &core.Session{UserID: "alice"}); err == nil {
		t.Error("Save() should surface put errors")
	}
}

func TestList(t *testing.T) {
	store := newStore(newFakeS3(), "walls")
	ctx := context.Background()

	for _, owner := range []string{"alice", "bob", "alice"} {
		if err := store.Save(ctx, &core.Session{UserID: owner, Data: []byte("{}")}); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
	}

	sessions, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("List() returned %d sessions, want 2", len(sessions))
	}
	for _, s := range sessions {
		if s.UserID != "alice" || s.Data != nil {
			t.Errorf("List() entry = %+v", s)
		}
	}
}

func TestDelete(t *testing.T) {
	fake := newFakeS3()
	store := newStore(fake, "walls")
	ctx := context.Background()

	session := &core.Session{UserID: "alice"}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if err := store.Delete(ctx, "mallory", session.ID); !errors.Is(err, core.ErrForbidden) {
		t.Errorf("Delete() by non-owner = %v, want ErrForbidden", err)
	}
	if err := store.Delete(ctx, "alice", session.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if len(fake.objects) != 0 {
		t.Errorf("objects left after delete: %v", fake.objects)
	}
	if err := store.Delete(ctx, "alice", session.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}
