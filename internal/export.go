package internal

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/lychee-technology/quarry"
	"go.uber.org/zap"
)

// ArtifactStore persists a finished export and returns its location.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// S3ArtifactStore uploads artifacts to an S3-compatible endpoint (MinIO,
// RustFS, AWS). The bucket is created on first use if it does not exist.
type S3ArtifactStore struct {
	client *s3.Client
	bucket string
}

// NewS3ArtifactStore builds a path-style S3 client from export settings.
func NewS3ArtifactStore(ctx context.Context, cfg quarry.ExportConfig) (*S3ArtifactStore, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
	}
	if cfg.S3Endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithBaseEndpoint(cfg.S3Endpoint))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return &S3ArtifactStore{client: client, bucket: cfg.S3Bucket}, nil
}

func (s *S3ArtifactStore) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	uploader := manager.NewUploader(s.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3ArtifactStore) ensureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	if _, cerr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); cerr != nil {
		var apiErr smithy.APIError
		if errors.As(cerr, &apiErr) {
			code := apiErr.ErrorCode()
			if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
				return nil
			}
		}
		return fmt.Errorf("create bucket: %w", cerr)
	}
	return nil
}

// DirArtifactStore writes artifacts to a local directory. Fallback for
// deployments without object storage.
type DirArtifactStore struct {
	dir string
}

func NewDirArtifactStore(dir string) *DirArtifactStore {
	return &DirArtifactStore{dir: dir}
}

func (d *DirArtifactStore) Put(_ context.Context, key, _ string, body io.Reader) (string, error) {
	path := filepath.Join(d.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, body); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

// Exporter streams scope results into an encoded artifact. Rows are fetched
// in id-seek batches and encoded as they arrive, so memory stays flat no
// matter how many rows the scope matches.
type Exporter struct {
	pool      queryPool
	store     ArtifactStore
	batchSize int
}

func NewExporter(pool queryPool, store ArtifactStore, batchSize int) *Exporter {
	return &Exporter{pool: pool, store: store, batchSize: batchSize}
}

// Run exports every record matching the scope and stores the artifact under
// exports/<jobID>.<ext>. progress is invoked with the cumulative record
// count after each batch.
func (ex *Exporter) Run(
	ctx context.Context,
	scope *Scope,
	format quarry.ExportFormat,
	jobID uuid.UUID,
	progress func(count int),
) (*quarry.ExportArtifact, error) {
	model := scope.Model()
	columns := selectColumns(model)

	tmp, err := os.CreateTemp("", "quarry-export-*")
	if err != nil {
		return nil, quarry.NewExportError("failed to create export scratch file", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	enc, contentType, ext := newEncoder(format, tmp)
	if err := enc.WriteHeader(columns); err != nil {
		return nil, quarry.NewExportError("failed to write export header", err)
	}

	count := 0
	var lastID int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, quarry.NewExportError("export interrupted", err)
		}

		records, err := ex.nextBatch(ctx, scope, columns, lastID)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}

		for _, rec := range records {
			if err := enc.WriteRecord(columns, rec); err != nil {
				return nil, quarry.NewExportError("failed to encode record", err)
			}
			count++
		}
		last, ok := recordID(records[len(records)-1], model.IDColumn)
		if !ok {
			return nil, quarry.NewExportError(
				fmt.Sprintf("record is missing a usable %s column", model.IDColumn), nil)
		}
		lastID = last
		if progress != nil {
			progress(count)
		}
	}

	if err := enc.Close(); err != nil {
		return nil, quarry.NewExportError("failed to finalize export", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, quarry.NewExportError("failed to rewind export file", err)
	}

	key := fmt.Sprintf("exports/%s.%s", jobID, ext)
	location, err := ex.store.Put(ctx, key, contentType, tmp)
	if err != nil {
		return nil, quarry.NewQuarryError(quarry.ErrorTypeBulk, quarry.ErrCodeArtifactStorage,
			"failed to store export artifact").WithCause(err)
	}

	zap.S().Infow("export artifact stored", "job_id", jobID, "key", key, "records", count)
	return &quarry.ExportArtifact{
		Key:         key,
		Location:    location,
		ContentType: contentType,
		RecordCount: int64(count),
	}, nil
}

func (ex *Exporter) nextBatch(ctx context.Context, scope *Scope, columns []string, lastID int64) ([]quarry.Record, error) {
	model := scope.Model()
	batch := scope.ClearOrder().
		Where(fmt.Sprintf("t.%s > ?", model.IDColumn), lastID).
		OrderBy(fmt.Sprintf("t.%s ASC", model.IDColumn))
	sql, args := batch.SelectSQL(columns, "LIMIT ?", ex.batchSize)

	rows, err := ex.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, quarry.NewQueryExecutionError("export batch query failed", err).WithModel(model.Name)
	}
	raw, err := scanRecords(rows)
	if err != nil {
		return nil, quarry.NewQueryExecutionError("export batch scan failed", err).WithModel(model.Name)
	}
	records := make([]quarry.Record, len(raw))
	for i, r := range raw {
		records[i] = quarry.Record(r)
	}
	return records, nil
}

// recordEncoder writes one export format to an underlying writer.
type recordEncoder interface {
	WriteHeader(columns []string) error
	WriteRecord(columns []string, rec quarry.Record) error
	Close() error
}

// newEncoder picks the encoder, content type, and file extension for a
// format. Unknown formats fall back to plain CSV.
func newEncoder(format quarry.ExportFormat, w io.Writer) (recordEncoder, string, string) {
	switch format {
	case quarry.ExportSpreadsheet:
		return newCSVEncoder(w, true), "text/csv; charset=utf-8", "csv"
	case quarry.ExportNDJSON:
		return &ndjsonEncoder{enc: json.NewEncoder(w)}, "application/x-ndjson", "ndjson"
	case quarry.ExportJSONArray:
		return &jsonArrayEncoder{w: w}, "application/json", "json"
	case quarry.ExportCSV:
		return newCSVEncoder(w, false), "text/csv", "csv"
	default:
		zap.S().Warnw("unknown export format, using csv", "format", format)
		return newCSVEncoder(w, false), "text/csv", "csv"
	}
}

// csvEncoder writes RFC 4180 CSV. In spreadsheet mode it prepends a UTF-8
// byte order mark and terminates lines with CRLF so Excel opens the file
// with correct encoding and row breaks.
type csvEncoder struct {
	w           io.Writer
	csv         *csv.Writer
	spreadsheet bool
	started     bool
}

func newCSVEncoder(w io.Writer, spreadsheet bool) *csvEncoder {
	cw := csv.NewWriter(w)
	cw.UseCRLF = spreadsheet
	return &csvEncoder{w: w, csv: cw, spreadsheet: spreadsheet}
}

func (e *csvEncoder) WriteHeader(columns []string) error {
	if e.spreadsheet && !e.started {
		if _, err := e.w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return err
		}
	}
	e.started = true
	return e.csv.Write(columns)
}

func (e *csvEncoder) WriteRecord(columns []string, rec quarry.Record) error {
	row := make([]string, len(columns))
	for i, col := range columns {
		row[i] = formatCSVValue(rec[col])
	}
	return e.csv.Write(row)
}

func (e *csvEncoder) Close() error {
	e.csv.Flush()
	return e.csv.Error()
}

type ndjsonEncoder struct {
	enc *json.Encoder
}

func (e *ndjsonEncoder) WriteHeader([]string) error { return nil }

func (e *ndjsonEncoder) WriteRecord(_ []string, rec quarry.Record) error {
	return e.enc.Encode(rec)
}

func (e *ndjsonEncoder) Close() error { return nil }

// jsonArrayEncoder writes records as one JSON array without buffering the
// whole result set.
type jsonArrayEncoder struct {
	w       io.Writer
	started bool
}

func (e *jsonArrayEncoder) WriteHeader([]string) error {
	_, err := io.WriteString(e.w, "[")
	return err
}

func (e *jsonArrayEncoder) WriteRecord(_ []string, rec quarry.Record) error {
	if e.started {
		if _, err := io.WriteString(e.w, ","); err != nil {
			return err
		}
	}
	e.started = true
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = e.w.Write(data)
	return err
}

func (e *jsonArrayEncoder) Close() error {
	_, err := io.WriteString(e.w, "]")
	return err
}

func formatCSVValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
