package evidence

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"smallbiznis-missions/pkg/config"
	"smallbiznis-missions/pkg/errutil"
	"smallbiznis-missions/services/verification"

	"github.com/bwmarrin/snowflake"
	"github.com/minio/minio-go/v7"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const MaxUploadSize = 50 << 20

// ObjectStore is the subset of *minio.Client used for evidence uploads.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Service struct {
	store  ObjectStore
	bucket string
	node   *snowflake.Node
	now    func() time.Time
}

type ServiceParams struct {
	fx.In
	Store  *minio.Client
	Config *config.Config
	Node   *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return newService(p.Store, p.Config.Minio.BucketName, p.Node)
}

func newService(store ObjectStore, bucket string, node *snowflake.Node) *Service {
	return &Service{store: store, bucket: bucket, node: node, now: time.Now}
}

type Upload struct {
	Reference   string                    `json:"reference"`
	Type        verification.EvidenceType `json:"type"`
	ContentType string                    `json:"content_type"`
	Size        int64                     `json:"size"`
}

// TypeOf maps a MIME type onto the evidence type recorded with the reference.
func TypeOf(contentType string) verification.EvidenceType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return verification.EvidenceImage
	case strings.HasPrefix(contentType, "video/"):
		return verification.EvidenceVideo
	default:
		return verification.EvidenceOther
	}
}

// Put stores the bytes and returns the reference the caller submits as
// evidence. The reference is opaque to the rest of the engine.
func (s *Service) Put(ctx context.Context, memberID, filename, contentType string, r io.Reader, size int64) (*Upload, error) {
	sc := trace.SpanContextFromContext(ctx)
	log := zap.L().With(zap.String("trace_id", sc.TraceID().String()), zap.String("member_id", memberID))

	if memberID == "" {
		return nil, errutil.BadRequest("member_id is required", nil)
	}
	if size <= 0 {
		return nil, errutil.BadRequest("empty upload", nil)
	}
	if size > MaxUploadSize {
		return nil, errutil.BadRequest("upload exceeds the maximum size", nil)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	object := path.Join(
		"evidence",
		memberID,
		s.now().UTC().Format("2006/01/02"),
		s.node.Generate().String()+strings.ToLower(path.Ext(filename)),
	)

	info, err := s.store.PutObject(ctx, s.bucket, object, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"member-id": memberID},
	})
	if err != nil {
		log.Error("failed to store evidence", zap.String("object", object), zap.Error(err))
		return nil, errutil.ServiceUnavailable("evidence storage unavailable", err)
	}

	log.Info("evidence stored", zap.String("object", object), zap.Int64("size", info.Size))
	return &Upload{
		Reference:   s.bucket + "/" + object,
		Type:        TypeOf(contentType),
		ContentType: contentType,
		Size:        size,
	}, nil
}
