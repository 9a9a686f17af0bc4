package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"AI_PROCTOR/go-backend/internal/gaze"
	"AI_PROCTOR/go-backend/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	FaceLandmarksService = "facemesh.FaceLandmarks"
	estimateFacesMethod  = "/facemesh.FaceLandmarks/EstimateFaces"

	inferenceTimeout = 5 * time.Second
)

// GRPCClient talks to the face-landmark inference service. It implements
// gaze.Detector.
type GRPCClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	url    string
	logger *slog.Logger
}

func NewGRPCClient(url string, logger *slog.Logger, extra ...grpc.DialOption) (*GRPCClient, error) {
	logger = logger.With("component", "facemesh", "url", url)
	logger.Info("connecting to face mesh service")

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(50*1024*1024),
			grpc.MaxCallSendMsgSize(50*1024*1024),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not connect to face mesh service at %s: %w", url, err)
	}

	return &GRPCClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		url:    url,
		logger: logger,
	}, nil
}

// DetectorFactory returns a factory that dials url and waits until the
// service reports healthy.
func DetectorFactory(url string, logger *slog.Logger, extra ...grpc.DialOption) gaze.DetectorFactory {
	return func(ctx context.Context) (gaze.Detector, error) {
		c, err := NewGRPCClient(url, logger, extra...)
		if err != nil {
			return nil, err
		}
		if err := c.checkHealth(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
		c.logger.Info("connected to face mesh service")
		return c, nil
	}
}

func (gc *GRPCClient) EstimateFaces(ctx context.Context, frame models.VideoFrame) ([]gaze.Face, error) {
	ctx, cancel := context.WithTimeout(ctx, inferenceTimeout)
	defer cancel()

	req, err := encodeFrame(frame)
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := gc.conn.Invoke(ctx, estimateFacesMethod, req, resp); err != nil {
		return nil, fmt.Errorf("could not estimate faces: %w", err)
	}
	return decodeFaces(resp, frame.Width, frame.Height)
}

// HealthCheck reports whether the inference service is serving.
func (gc *GRPCClient) HealthCheck(ctx context.Context) bool {
	return gc.checkHealth(ctx) == nil
}

func (gc *GRPCClient) checkHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := gc.health.Check(ctx, &healthpb.HealthCheckRequest{Service: FaceLandmarksService})
	if err != nil {
		return fmt.Errorf("face mesh health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("face mesh service is %s", resp.GetStatus())
	}
	return nil
}

func (gc *GRPCClient) Close() error {
	if gc.conn != nil {
		return gc.conn.Close()
	}
	return nil
}

func encodeFrame(frame models.VideoFrame) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"frame":            base64.StdEncoding.EncodeToString(frame.Data),
		"width":            frame.Width,
		"height":           frame.Height,
		"sequence_number":  frame.SequenceNumber,
		"max_faces":        1,
		"refine_landmarks": true,
		"flip_horizontal":  false,
	})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return req, nil
}

// decodeFaces reads {faces: [{keypoints: [{x, y, z}]}]}. Coordinates
// arrive in pixels and are normalized by the frame size.
func decodeFaces(resp *structpb.Struct, width, height int) ([]gaze.Face, error) {
	facesVal, ok := resp.GetFields()["faces"]
	if !ok {
		return nil, nil
	}
	list := facesVal.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("decode faces: faces is not a list")
	}

	sx, sy := 1.0, 1.0
	if width > 0 && height > 0 {
		sx, sy = float64(width), float64(height)
	}

	faces := make([]gaze.Face, 0, len(list.GetValues()))
	for i, fv := range list.GetValues() {
		fs := fv.GetStructValue()
		if fs == nil {
			return nil, fmt.Errorf("decode faces: face %d is not an object", i)
		}
		kpList := fs.GetFields()["keypoints"].GetListValue()
		if kpList == nil {
			return nil, fmt.Errorf("decode faces: face %d has no keypoints list", i)
		}
		kps := kpList.GetValues()
		face := gaze.Face{Keypoints: make([]models.Point, 0, len(kps))}
		for j, kv := range kps {
			ks := kv.GetStructValue()
			if ks == nil {
				return nil, fmt.Errorf("decode faces: face %d keypoint %d is not an object", i, j)
			}
			p := ks.GetFields()
			x, okX := p["x"].GetKind().(*structpb.Value_NumberValue)
			y, okY := p["y"].GetKind().(*structpb.Value_NumberValue)
			if !okX || !okY {
				return nil, fmt.Errorf("decode faces: face %d keypoint %d has no x/y", i, j)
			}
			face.Keypoints = append(face.Keypoints, models.Point{
				X: x.NumberValue / sx,
				Y: y.NumberValue / sy,
				Z: p["z"].GetNumberValue(),
			})
		}
		faces = append(faces, face)
	}
	return faces, nil
}
