package utils

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/sirupsen/logrus"
)

const (
	FormatPNG  = "png"
	FormatWebP = "webp"
	FormatJPEG = "jpeg"
)

// EncodedImage - 최종 출력 이미지
type EncodedImage struct {
	Data        []byte
	ContentType string
	Extension   string
}

// EncodeOutput - 모델 출력 이미지를 요청 포맷으로 변환
// 이미 같은 포맷이면 원본 그대로 사용
func EncodeOutput(data []byte, format string, webpQuality float32) (*EncodedImage, error) {
	sourceType := http.DetectContentType(data)

	switch format {
	case FormatWebP:
		if sourceType == "image/webp" {
			return &EncodedImage{Data: data, ContentType: "image/webp", Extension: "webp"}, nil
		}
		out, err := ConvertToWebP(data, webpQuality)
		if err != nil {
			return nil, err
		}
		return &EncodedImage{Data: out, ContentType: "image/webp", Extension: "webp"}, nil

	case FormatJPEG:
		if sourceType == "image/jpeg" {
			return &EncodedImage{Data: data, ContentType: "image/jpeg", Extension: "jpg"}, nil
		}
		img, err := decode(data)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
			return nil, fmt.Errorf("failed to encode JPEG: %w", err)
		}
		return &EncodedImage{Data: buf.Bytes(), ContentType: "image/jpeg", Extension: "jpg"}, nil

	default:
		if sourceType == "image/png" {
			return &EncodedImage{Data: data, ContentType: "image/png", Extension: "png"}, nil
		}
		img, err := decode(data)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode PNG: %w", err)
		}
		return &EncodedImage{Data: buf.Bytes(), ContentType: "image/png", Extension: "png"}, nil
	}
}

// ConvertToWebP - PNG/JPEG 바이너리를 WebP로 변환
func ConvertToWebP(data []byte, quality float32) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var webpBuffer bytes.Buffer
	if err := webp.Encode(&webpBuffer, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}

	webpData := webpBuffer.Bytes()
	logrus.WithFields(logrus.Fields{"from": len(data), "to": len(webpData), "quality": quality}).
		Info("🔄 [Image] Converted to WebP")
	return webpData, nil
}

func decode(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	logrus.WithField("format", format).Debug("🔍 [Image] Decoded model output")
	return img, nil
}
