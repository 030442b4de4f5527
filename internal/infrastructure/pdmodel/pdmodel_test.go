package pdmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func sampleModel() LogisticModel {
	return LogisticModel{
		FeatureNames: []string{"year_of_birth"},
		Coefficients: []float64{1},
		Intercept:    0,
		Mean:         1980,
		Scale:        10,
	}
}

func year(v int) *int { return &v }

type countingLoader struct {
	mu    sync.Mutex
	calls int
	data  []byte
	name  string
	err   error
}

func (l *countingLoader) Load(context.Context) ([]byte, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.data, l.name, l.err
}

func TestDecode(t *testing.T) {
	m := sampleModel()
	js, err := json.Marshal(m)
	require.NoError(t, err)
	mp, err := msgpack.Marshal(m)
	require.NoError(t, err)

	tests := []struct {
		name    string
		file    string
		data    []byte
		wantErr bool
	}{
		{name: "json", file: "model.json", data: js},
		{name: "msgpack", file: "models/pd.msgpack", data: mp},
		{name: "upper case extension", file: "MODEL.JSON", data: js},
		{name: "pickle is not supported", file: "logistic_model.pkl", data: []byte{0x80}, wantErr: true},
		{name: "corrupt json", file: "model.json", data: []byte("{"), wantErr: true},
		{name: "two coefficients", file: "model.json", data: []byte(`{"coefficients":[1,2]}`), wantErr: true},
		{name: "negative scale", file: "model.json", data: []byte(`{"coefficients":[1],"scale":-1}`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.file, tt.data)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidModel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

func TestLogisticModel_Probability(t *testing.T) {
	m := sampleModel()

	assert.InDelta(t, 0.5, m.Probability(1980), 1e-12)
	assert.InDelta(t, 0.7310585786, m.Probability(1990), 1e-9)
	assert.InDelta(t, 0.2689414214, m.Probability(1970), 1e-9)
	assert.Equal(t, "year_of_birth", LogisticModel{Coefficients: []float64{1}}.Feature())
}

func TestHandle_Score(t *testing.T) {
	data, err := json.Marshal(sampleModel())
	require.NoError(t, err)
	loader := &countingLoader{data: data, name: "pd.json"}
	h := NewHandle(loader, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.InDelta(t, 0.5, h.Score(year(1980)), 1e-12)
	assert.Equal(t, DefaultPD, h.Score(nil))
	assert.True(t, h.Loaded())
	assert.Equal(t, 1, loader.calls)
}

func TestHandle_LoadsOnceUnderConcurrency(t *testing.T) {
	data, err := json.Marshal(sampleModel())
	require.NoError(t, err)
	loader := &countingLoader{data: data, name: "pd.json"}
	h := NewHandle(loader, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.InDelta(t, 0.5, h.Score(year(1980)), 1e-12)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, loader.calls)
}

func TestHandle_FallsBackOnLoadFailure(t *testing.T) {
	var buf bytes.Buffer
	loader := &countingLoader{err: errors.New("no such file")}
	h := NewHandle(loader, slog.New(slog.NewTextHandler(&buf, nil)))

	err := h.Warm(context.Background())
	require.Error(t, err)

	assert.Equal(t, DefaultPD, h.Score(year(1980)))
	assert.Equal(t, DefaultPD, h.Score(year(1990)))
	assert.False(t, h.Loaded())
	assert.Equal(t, 1, loader.calls)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("PD model unavailable")))
}

func TestHandle_FromModel(t *testing.T) {
	h := NewHandleFromModel(sampleModel(), nil)
	assert.NoError(t, h.Warm(context.Background()))
	assert.InDelta(t, 0.7310585786, h.Score(year(1990)), 1e-9)
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pd.msgpack")
	data, err := msgpack.Marshal(sampleModel())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	h := NewHandle(FileLoader{Path: path}, nil)
	require.NoError(t, h.Warm(context.Background()))
	assert.InDelta(t, 0.5, h.Score(year(1980)), 1e-12)

	_, _, err = FileLoader{Path: filepath.Join(dir, "missing.json")}.Load(context.Background())
	assert.Error(t, err)
}

type mockS3 struct {
	getObjectFunc func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return m.getObjectFunc(ctx, params, optFns...)
}

func TestS3Loader(t *testing.T) {
	data, err := json.Marshal(sampleModel())
	require.NoError(t, err)

	client := &mockS3{
		getObjectFunc: func(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			assert.Equal(t, "models", aws.ToString(params.Bucket))
			assert.Equal(t, "pd/v3.json", aws.ToString(params.Key))
			return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
		},
	}

	h := NewHandle(S3Loader{Client: client, Bucket: "models", Key: "pd/v3.json"}, nil)
	require.NoError(t, h.Warm(context.Background()))
	assert.InDelta(t, 0.5, h.Score(year(1980)), 1e-12)
}

func TestNewLoader(t *testing.T) {
	l, err := NewLoader(context.Background(), "/models/pd.json", "")
	require.NoError(t, err)
	assert.Equal(t, FileLoader{Path: "/models/pd.json"}, l)

	_, err = NewLoader(context.Background(), "s3://bucket-only", "eu-west-1")
	assert.Error(t, err)
}
