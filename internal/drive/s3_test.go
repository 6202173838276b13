package drive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/notesync/internal/errs"
)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newFakeObjects() *fakeObjects { return &fakeObjects{objects: map[string][]byte{}} }

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func TestS3Drive(t *testing.T) {
	fake := newFakeObjects()
	d, err := NewS3(context.Background(), S3Config{Bucket: "b", Prefix: "notesync"}, fake, nil)
	require.NoError(t, err)
	exerciseDrive(t, d)

	u := uuid.Must(uuid.NewV4())
	require.Equal(t, "notesync/"+u.String()+".json", d.Key(u))
}

func TestS3Drive_ErrorClassification(t *testing.T) {
	fake := newFakeObjects()
	d, err := NewS3(context.Background(), S3Config{Bucket: "b"}, fake, nil)
	require.NoError(t, err)
	u := uuid.Must(uuid.NewV4())
	ctx := context.Background()

	fake.err = &smithy.GenericAPIError{Code: "AccessDenied", Fault: smithy.FaultClient}
	_, err = d.ReadAll(ctx, u)
	require.ErrorIs(t, err, errs.ErrAuth)

	fake.err = &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}
	_, err = d.WriteAll(ctx, u, sampleSnapshot(u))
	require.ErrorIs(t, err, errs.ErrNetwork)

	fake.err = errors.New("dial tcp: connection refused")
	_, err = d.ReadAll(ctx, u)
	require.ErrorIs(t, err, errs.ErrNetwork)

	fake.err = &smithy.GenericAPIError{Code: "InvalidRequest", Fault: smithy.FaultClient}
	_, err = d.ReadAll(ctx, u)
	require.Error(t, err)
	require.False(t, errs.IsRetryable(err))

	fake.err = nil
	fake.objects["b/"+u.String()+".json"] = []byte("not json")
	_, err = d.ReadAll(ctx, u)
	require.ErrorIs(t, err, errs.ErrMalformedSnapshot)
}
