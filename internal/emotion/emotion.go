// Package emotion detects the dominant facial emotion in an image using an
// external face-analysis service.
package emotion

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/justestif/go-spotify-mood-recommender/internal/apperr"
)

// Detection is a dominant emotion with confidence in 0..1.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// FaceDetector is the subset of the Rekognition API used here.
type FaceDetector interface {
	DetectFaces(ctx context.Context, in *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

// labels maps provider emotion names onto the labels used for seeding.
// Names not listed pass through unchanged.
var labels = map[types.EmotionName]string{
	types.EmotionNameDisgusted: "DISGUST",
	types.EmotionNameSurprised: "SURPRISE",
}

// Classifier detects emotions with Rekognition.
type Classifier struct {
	client FaceDetector
}

// NewClassifier wraps an existing detector.
func NewClassifier(client FaceDetector) *Classifier {
	return &Classifier{client: client}
}

// NewRekognitionClassifier loads the default AWS configuration for region
// and returns a Classifier backed by Rekognition.
func NewRekognitionClassifier(ctx context.Context, region string) (*Classifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewClassifier(rekognition.NewFromConfig(cfg)), nil
}

// Classify returns the highest-confidence emotion of the first detected face,
// or nil if no face is found.
func (c *Classifier) Classify(ctx context.Context, image []byte) (*Detection, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("classifying image: %w: empty image", apperr.ErrInvalidInput)
	}

	out, err := c.client.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &types.Image{Bytes: image},
		Attributes: []types.Attribute{types.AttributeAll},
	})
	if err != nil {
		return nil, fmt.Errorf("classifying image: %w", classify(err))
	}
	if len(out.FaceDetails) == 0 {
		return nil, nil
	}

	var best *types.Emotion
	for i := range out.FaceDetails[0].Emotions {
		e := &out.FaceDetails[0].Emotions[i]
		if best == nil || aws.ToFloat32(e.Confidence) > aws.ToFloat32(best.Confidence) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}

	label, ok := labels[best.Type]
	if !ok {
		label = string(best.Type)
	}
	return &Detection{
		Label:      label,
		Confidence: NormalizeConfidence(float64(aws.ToFloat32(best.Confidence))),
	}, nil
}

// NormalizeConfidence accepts either a 0..1 or a 0..100 score and returns 0..1.
func NormalizeConfidence(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	return min(max(v, 0), 1)
}

func classify(err error) error {
	if apperr.IsTimeout(err) {
		return fmt.Errorf("%w: %w", apperr.ErrUpstreamTimeout, err)
	}

	var tooLarge *types.ImageTooLargeException
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: %w", apperr.ErrPayloadTooLarge, err)
	}

	var badFormat *types.InvalidImageFormatException
	if errors.As(err, &badFormat) {
		return fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}

	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusRequestEntityTooLarge {
		return fmt.Errorf("%w: %w", apperr.ErrPayloadTooLarge, err)
	}

	return fmt.Errorf("%w: %w", apperr.ErrUpstream, err)
}
