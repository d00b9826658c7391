package grpcclient

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/idgate/internal/detection"
	"github.com/example/idgate/internal/imageprocessor"
	"github.com/example/idgate/internal/logging"
)

// ServiceName is the fully qualified inference service.
const ServiceName = "idgate.inference.v1.Inference"

// Full method names of the inference service.
const (
	MethodDetect      = "/" + ServiceName + "/Detect"
	MethodDetectFaces = "/" + ServiceName + "/DetectFaces"
	MethodRecognize   = "/" + ServiceName + "/Recognize"
	MethodEmbed       = "/" + ServiceName + "/Embed"
)

// MinFaceConfidence drops face detections the detector is unsure about.
const MinFaceConfidence = 0.6

const frameJPEGQuality = 95

// InferenceClient adapts the remote inference service to the collaborator
// interfaces the verification pipeline consumes.
type InferenceClient struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

var (
	_ imageprocessor.Detector       = (*InferenceClient)(nil)
	_ imageprocessor.FaceDetector   = (*InferenceClient)(nil)
	_ imageprocessor.TextRecognizer = (*InferenceClient)(nil)
	_ imageprocessor.Embedder       = (*InferenceClient)(nil)
)

// New wraps an existing connection.
func New(conn grpc.ClientConnInterface, logger *zap.Logger) *InferenceClient {
	return &InferenceClient{conn: conn, logger: logger.Named("grpcclient")}
}

// Dial connects to the inference service and blocks until the connection is
// ready or timeout elapses.
func Dial(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger) (*InferenceClient, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_inference", "", err)
		logger.Error("failed to dial inference service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return New(conn, logger), conn, nil
}

// Detect sends the frame as JPEG and returns the card detector output.
func (c *InferenceClient) Detect(ctx context.Context, img image.Image) ([]detection.Detection, error) {
	payload, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}
	out := &structpb.ListValue{}
	if err := c.invoke(ctx, MethodDetect, wrapperspb.Bytes(payload), out); err != nil {
		return nil, err
	}

	dets := make([]detection.Detection, 0, len(out.GetValues()))
	for i, v := range out.GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("detect: item %d is not an object", i)
		}
		dets = append(dets, detection.Detection{
			Class: detection.Class(int(number(fields, "class"))),
			Box: detection.FromCorners(
				int(number(fields, "x1")),
				int(number(fields, "y1")),
				int(number(fields, "x2")),
				int(number(fields, "y2")),
			),
		})
	}
	return dets, nil
}

// DetectFaces returns face boxes in the pixel coordinates of img. The service
// reports boxes relative to the image size.
func (c *InferenceClient) DetectFaces(ctx context.Context, img image.Image) ([]detection.Box, error) {
	payload, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}
	out := &structpb.ListValue{}
	if err := c.invoke(ctx, MethodDetectFaces, wrapperspb.Bytes(payload), out); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	var boxes []detection.Box
	for _, v := range out.GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil || number(fields, "score") < MinFaceConfidence {
			continue
		}
		boxes = append(boxes, detection.Box{
			X: bounds.Min.X + int(number(fields, "xmin")*w),
			Y: bounds.Min.Y + int(number(fields, "ymin")*h),
			W: int(number(fields, "width") * w),
			H: int(number(fields, "height") * h),
		})
	}
	return boxes, nil
}

// Recognize sends a PNG crop and returns the raw recognized text.
func (c *InferenceClient) Recognize(ctx context.Context, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode crop: %w", err)
	}
	out := &wrapperspb.StringValue{}
	if err := c.invoke(ctx, MethodRecognize, wrapperspb.Bytes(buf.Bytes()), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Embed sends the face tensor as little-endian float32 values.
func (c *InferenceClient) Embed(ctx context.Context, tensor []float32) ([]float32, error) {
	out := &structpb.ListValue{}
	if err := c.invoke(ctx, MethodEmbed, wrapperspb.Bytes(EncodeTensor(tensor)), out); err != nil {
		return nil, err
	}
	vec := make([]float32, len(out.GetValues()))
	for i, v := range out.GetValues() {
		if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
			return nil, fmt.Errorf("embed: element %d is not a number", i)
		}
		vec[i] = float32(v.GetNumberValue())
	}
	return vec, nil
}

func (c *InferenceClient) invoke(ctx context.Context, method string, in, out any) error {
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		wrapped := logging.NewOperationError("grpcclient."+strings.ToLower(path.Base(method)), "", err)
		c.logger.Warn("inference call failed", zap.String("method", method), zap.Error(err))
		return wrapped
	}
	return nil
}

// EncodeTensor serializes values as consecutive little-endian float32.
func EncodeTensor(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeTensor is the inverse of EncodeTensor.
func DecodeTensor(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("tensor payload length %d is not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out, nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: frameJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func number(fields map[string]*structpb.Value, key string) float64 {
	return fields[key].GetNumberValue()
}
