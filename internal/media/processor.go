package media

import (
	"Parley/internal/model"
	"bytes"
	"context"
	"fmt"
	"image"
	log "log/slog"
	"os"
	"path"
	"strings"

	"github.com/disintegration/imaging"
)

// Asset 一个待上传的文件
type Asset struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Prepared 处理后的主文件与缩略图
type Prepared struct {
	Main  Asset
	Thumb *Asset
}

type Processor struct {
	maxEdge   int
	quality   int
	thumbEdge int
	ffmpeg    string
}

func NewProcessor(maxEdge, quality, thumbEdge int, ffmpegPath string) *Processor {
	return &Processor{maxEdge: maxEdge, quality: quality, thumbEdge: thumbEdge, ffmpeg: ffmpegPath}
}

// Prepare 图片压缩并生成缩略图；视频在配置了 ffmpeg 时截取首帧做缩略图；其他类型原样上传
func (p *Processor) Prepare(ctx context.Context, kind model.MessageType, in Asset) (*Prepared, error) {
	switch kind {
	case model.MessageImage:
		return p.prepareImage(in)
	case model.MessageVideo:
		out := &Prepared{Main: in}
		if p.ffmpeg == "" {
			return out, nil
		}
		thumb, err := p.videoThumb(ctx, in)
		if err != nil {
			// 缩略图失败不影响发送
			log.WarnContext(ctx, "video thumbnail failed", "file", in.Filename, "err", err)
			return out, nil
		}
		out.Thumb = thumb
		return out, nil
	}
	return &Prepared{Main: in}, nil
}

func (p *Processor) prepareImage(in Asset) (*Prepared, error) {
	// gif 保留动画
	if in.ContentType == "image/gif" {
		return &Prepared{Main: in}, nil
	}
	img, err := imaging.Decode(bytes.NewReader(in.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	resized := img
	b := img.Bounds()
	if p.maxEdge > 0 && (b.Dx() > p.maxEdge || b.Dy() > p.maxEdge) {
		resized = imaging.Fit(img, p.maxEdge, p.maxEdge, imaging.Lanczos)
	}

	format, contentType, ext := imaging.JPEG, "image/jpeg", ".jpg"
	if in.ContentType == "image/png" {
		format, contentType, ext = imaging.PNG, "image/png", ".png"
	}
	data, err := p.encode(resized, format)
	if err != nil {
		return nil, err
	}
	out := &Prepared{Main: Asset{Data: data, ContentType: contentType, Filename: replaceExt(in.Filename, ext)}}

	if p.thumbEdge > 0 {
		thumb, err := p.thumbnail(img, in.Filename)
		if err != nil {
			return nil, err
		}
		out.Thumb = thumb
	}
	return out, nil
}

func (p *Processor) thumbnail(img image.Image, name string) (*Asset, error) {
	t := imaging.Fit(img, p.thumbEdge, p.thumbEdge, imaging.Box)
	data, err := p.encode(t, imaging.JPEG)
	if err != nil {
		return nil, err
	}
	return &Asset{Data: data, ContentType: "image/jpeg", Filename: "thumb_" + replaceExt(name, ".jpg")}, nil
}

func (p *Processor) encode(img image.Image, format imaging.Format) ([]byte, error) {
	var buf bytes.Buffer
	opts := []imaging.EncodeOption{}
	if format == imaging.JPEG && p.quality > 0 {
		opts = append(opts, imaging.JPEGQuality(p.quality))
	}
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *Processor) videoThumb(ctx context.Context, in Asset) (*Asset, error) {
	f, err := os.CreateTemp("", "parley-video-*"+path.Ext(in.Filename))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = os.Remove(f.Name())
	}()
	if _, err := f.Write(in.Data); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	frame, err := ExtractFrame(ctx, p.ffmpeg, f.Name())
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	edge := p.thumbEdge
	if edge <= 0 {
		edge = 320
	}
	t := imaging.Fit(img, edge, edge, imaging.Box)
	data, err := p.encode(t, imaging.JPEG)
	if err != nil {
		return nil, err
	}
	return &Asset{Data: data, ContentType: "image/jpeg", Filename: "thumb_" + replaceExt(in.Filename, ".jpg")}, nil
}

func replaceExt(name, ext string) string {
	if name == "" {
		return "file" + ext
	}
	return strings.TrimSuffix(name, path.Ext(name)) + ext
}
