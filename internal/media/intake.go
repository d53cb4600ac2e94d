package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/civicreport/internal/models"
	"github.com/patrickwarner/civicreport/internal/observability"
)

// Form field names.
const (
	FieldMedia = "media"
	FieldAudio = "audio"
	FieldFile  = "file"
)

// Kind classifies an accepted file.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// allowed maps accepted MIME types to their kind and stored extension.
var allowed = map[string]struct {
	kind Kind
	ext  string
}{
	"image/jpeg":      {KindImage, ".jpg"},
	"image/png":       {KindImage, ".png"},
	"image/webp":      {KindImage, ".webp"},
	"image/gif":       {KindImage, ".gif"},
	"image/heic":      {KindImage, ".heic"},
	"image/heif":      {KindImage, ".heif"},
	"video/mp4":       {KindVideo, ".mp4"},
	"video/quicktime": {KindVideo, ".mov"},
	"video/webm":      {KindVideo, ".webm"},
	"video/3gpp":      {KindVideo, ".3gp"},
	"audio/mpeg":      {KindAudio, ".mp3"},
	"audio/mp4":       {KindAudio, ".m4a"},
	"audio/x-m4a":     {KindAudio, ".m4a"},
	"audio/aac":       {KindAudio, ".aac"},
	"audio/wav":       {KindAudio, ".wav"},
	"audio/x-wav":     {KindAudio, ".wav"},
	"audio/wave":      {KindAudio, ".wav"},
	"audio/webm":      {KindAudio, ".weba"},
	"audio/ogg":       {KindAudio, ".ogg"},
	"audio/3gpp":      {KindAudio, ".3gp"},
}

// Limits bounds a single upload request.
type Limits struct {
	MaxFileBytes    int64
	MaxRequestBytes int64
	MaxMediaFiles   int
	MaxAudioFiles   int
	Parallelism     int
}

// DefaultLimits mirror the config defaults.
var DefaultLimits = Limits{
	MaxFileBytes:    25 << 20,
	MaxRequestBytes: 200 << 20,
	MaxMediaFiles:   10,
	MaxAudioFiles:   1,
	Parallelism:     4,
}

// UploadResult lists stored URLs in the order the files were sent.
type UploadResult struct {
	MediaURLs  []string `json:"mediaUrls"`
	AudioURL   string   `json:"audioUrl,omitempty"`
	Files      int      `json:"-"`
	TotalBytes int64    `json:"-"`
}

// Intake validates uploads and writes them to a BlobStore.
type Intake struct {
	store   BlobStore
	limits  Limits
	metrics observability.MetricsRegistry
	logger  *zap.Logger
}

// NewIntake builds an Intake. Zero limits fall back to DefaultLimits.
func NewIntake(store BlobStore, limits Limits, metrics observability.MetricsRegistry, logger *zap.Logger) *Intake {
	if limits.MaxFileBytes <= 0 {
		limits.MaxFileBytes = DefaultLimits.MaxFileBytes
	}
	if limits.MaxRequestBytes <= 0 {
		limits.MaxRequestBytes = DefaultLimits.MaxRequestBytes
	}
	if limits.MaxMediaFiles <= 0 {
		limits.MaxMediaFiles = DefaultLimits.MaxMediaFiles
	}
	if limits.MaxAudioFiles <= 0 {
		limits.MaxAudioFiles = DefaultLimits.MaxAudioFiles
	}
	if limits.Parallelism <= 0 {
		limits.Parallelism = DefaultLimits.Parallelism
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Intake{store: store, limits: limits, metrics: metrics, logger: logger}
}

// ReadForm parses a multipart request body, enforcing the request size limit.
// Callers must call RemoveAll on the returned form.
func (in *Intake) ReadForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	limit := in.limits.MaxRequestBytes
	if r.ContentLength > limit {
		in.metrics.IncrementMediaUploadFailures("too_large")
		return nil, fmt.Errorf("%w: request exceeds %d bytes", models.ErrPayloadTooLarge, limit)
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			in.metrics.IncrementMediaUploadFailures("too_large")
			return nil, fmt.Errorf("%w: request exceeds %d bytes", models.ErrPayloadTooLarge, limit)
		}
		in.metrics.IncrementMediaUploadFailures("validation")
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, models.NewValidationError("body", "must be multipart/form-data")
		}
		return nil, models.NewValidationError("body", "invalid multipart form: %v", err)
	}
	return r.MultipartForm, nil
}

// pending is a validated file waiting to be stored.
type pending struct {
	header      *multipart.FileHeader
	contentType string
	kind        Kind
	ext         string
}

// UploadMedia stores up to MaxMediaFiles image/video files from the media
// field and up to MaxAudioFiles from the audio field. Every file is
// validated before any is stored, and if storing any file fails the ones
// already written are deleted.
func (in *Intake) UploadMedia(ctx context.Context, form *multipart.Form) (*UploadResult, error) {
	mediaFiles := form.File[FieldMedia]
	audioFiles := form.File[FieldAudio]

	verr := &models.ValidationError{}
	if len(mediaFiles) == 0 && len(audioFiles) == 0 {
		verr.Add(FieldMedia, "at least one file is required")
	}
	if len(mediaFiles) > in.limits.MaxMediaFiles {
		verr.Add(FieldMedia, "at most %d files allowed, got %d", in.limits.MaxMediaFiles, len(mediaFiles))
	}
	if len(audioFiles) > in.limits.MaxAudioFiles {
		verr.Add(FieldAudio, "at most %d file allowed, got %d", in.limits.MaxAudioFiles, len(audioFiles))
	}
	if err := verr.Err(); err != nil {
		in.metrics.IncrementMediaUploadFailures("validation")
		return nil, err
	}

	var files []pending
	for _, fh := range mediaFiles {
		p, err := in.inspect(fh, KindImage, KindVideo)
		if err != nil {
			return nil, err
		}
		files = append(files, p)
	}
	for _, fh := range audioFiles {
		p, err := in.inspect(fh, KindAudio)
		if err != nil {
			return nil, err
		}
		files = append(files, p)
	}

	urls, total, err := in.storeAll(ctx, files)
	if err != nil {
		return nil, err
	}

	res := &UploadResult{MediaURLs: urls[:len(mediaFiles)], Files: len(files), TotalBytes: total}
	if len(audioFiles) > 0 {
		res.AudioURL = urls[len(mediaFiles)]
	}
	return res, nil
}

// UploadSingleMedia stores exactly one file sent as file, media or audio and
// returns its URL and stored size.
func (in *Intake) UploadSingleMedia(ctx context.Context, form *multipart.Form) (string, int64, error) {
	var candidates []*multipart.FileHeader
	for _, field := range []string{FieldFile, FieldMedia, FieldAudio} {
		candidates = append(candidates, form.File[field]...)
	}
	if len(candidates) != 1 {
		in.metrics.IncrementMediaUploadFailures("validation")
		return "", 0, models.NewValidationError(FieldFile, "exactly one file is required, got %d", len(candidates))
	}

	p, err := in.inspect(candidates[0], KindImage, KindVideo, KindAudio)
	if err != nil {
		return "", 0, err
	}
	urls, size, err := in.storeAll(ctx, []pending{p})
	if err != nil {
		return "", 0, err
	}
	return urls[0], size, nil
}

// inspect checks size and type of one file. The declared Content-Type is
// trusted when it names a specific type, otherwise the first 512 bytes
// are sniffed.
func (in *Intake) inspect(fh *multipart.FileHeader, kinds ...Kind) (pending, error) {
	if fh.Size > in.limits.MaxFileBytes {
		in.metrics.IncrementMediaUploadFailures("too_large")
		return pending{}, fmt.Errorf("%w: %s is %d bytes, limit %d", models.ErrPayloadTooLarge, fh.Filename, fh.Size, in.limits.MaxFileBytes)
	}

	ct := normalizeType(fh.Header.Get("Content-Type"))
	if ct == "" || ct == "application/octet-stream" {
		sniffed, err := sniff(fh)
		if err != nil {
			return pending{}, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		ct = sniffed
	}

	known, ok := allowed[ct]
	if ok {
		for _, k := range kinds {
			if known.kind == k {
				return pending{header: fh, contentType: ct, kind: known.kind, ext: known.ext}, nil
			}
		}
	}
	in.metrics.IncrementMediaUploadFailures("unsupported_type")
	return pending{}, fmt.Errorf("%w: %s has type %q", models.ErrUnsupportedMediaType, fh.Filename, ct)
}

func normalizeType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

func sniff(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	return normalizeType(http.DetectContentType(buf[:n])), nil
}

// storeAll writes files with bounded parallelism. URLs are returned in input
// order. On any failure every stored blob of this call is removed.
func (in *Intake) storeAll(ctx context.Context, files []pending) ([]string, int64, error) {
	urls := make([]string, len(files))
	keys := make([]string, len(files))
	sizes := make([]int64, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.limits.Parallelism)
	for i, p := range files {
		g.Go(func() error {
			key := uuid.NewString() + p.ext
			f, err := p.header.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", p.header.Filename, err)
			}
			defer func() { _ = f.Close() }()

			url, n, err := in.store.Put(gctx, key, p.contentType, f)
			if err != nil {
				return fmt.Errorf("store %s: %w", p.header.Filename, err)
			}
			keys[i] = key
			urls[i] = url
			sizes[i] = n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		in.metrics.IncrementMediaUploadFailures("storage")
		in.rollback(context.WithoutCancel(ctx), keys)
		return nil, 0, err
	}

	var total int64
	for i, p := range files {
		total += sizes[i]
		in.metrics.IncrementMediaFiles(string(p.kind), sizes[i])
	}
	return urls, total, nil
}

func (in *Intake) rollback(ctx context.Context, keys []string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := in.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrBlobNotFound) {
			in.logger.Warn("failed to remove blob after aborted upload", zap.String("key", key), zap.Error(err))
		}
	}
}
