package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/castorhq/castor/pkg/config"
	pb "github.com/castorhq/castor/proto"
)

// GRPCTransport uploads through the uploader service over gRPC.
// In-call retries cover transient transport trouble only; a semantic
// rejection from the platform comes back as a failed result immediately
// and the scheduler's retry policy takes over.
type GRPCTransport struct {
	conn        *grpc.ClientConn
	client      pb.UploadServiceClient
	attempts    int
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewGRPCTransport creates a transport for the configured uploader endpoint.
// Note: grpc.NewClient uses lazy dialing; actual connection happens on first RPC call.
func NewGRPCTransport(cfg *config.TransportConfig) (*GRPCTransport, error) {
	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to uploader service: %w", err)
	}

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &GRPCTransport{
		conn:        conn,
		client:      pb.NewUploadServiceClient(conn),
		attempts:    attempts,
		callTimeout: cfg.CallTimeout,
		logger:      slog.Default().With("component", "grpc-transport"),
	}, nil
}

// Upload performs one upload RPC, retrying transient transport errors.
func (t *GRPCTransport) Upload(ctx context.Context, item UploadItem) (*UploadResult, error) {
	req := &pb.UploadRequest{
		PublishId:    item.PublishID,
		AccountId:    item.AccountID,
		VideoRef:     item.VideoRef,
		Title:        item.Title,
		Description:  item.Description,
		Tags:         item.Tags,
		ThumbnailRef: item.ThumbnailRef,
		Privacy:      item.Privacy,
	}

	var resp *pb.UploadResponse
	err := retry.Do(
		func() error {
			callCtx, cancel := callDeadline(ctx, t.callTimeout)
			defer cancel()

			r, err := t.client.Upload(callCtx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(t.attempts)),
		retry.Delay(2*time.Second),
		retry.OnRetry(func(n uint, err error) {
			t.logger.Warn("Upload RPC retry",
				"publish_id", item.PublishID,
				"attempt", n+1,
				"error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	return uploadResultFromProto(resp), nil
}

// Close closes the gRPC connection.
func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}

func uploadResultFromProto(resp *pb.UploadResponse) *UploadResult {
	result := &UploadResult{
		PlatformVideoID: resp.PlatformVideoId,
		PlatformURL:     resp.PlatformUrl,
		ErrorMessage:    resp.ErrorMessage,
		ErrorCode:       resp.ErrorCode,
	}
	switch resp.Status {
	case pb.UploadResponse_STATUS_SUCCESS:
		result.Success = true
	case pb.UploadResponse_STATUS_RETRYABLE:
		result.Retryable = true
		if result.ErrorCode == "" {
			result.ErrorCode = "transient"
		}
	default:
		if result.ErrorCode == "" {
			result.ErrorCode = "upload_failed"
		}
	}
	return result
}
