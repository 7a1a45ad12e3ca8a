package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// ExtractFrame 截取视频首帧，输出 JPEG
func ExtractFrame(ctx context.Context, ffmpegPath, input string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-v", "error",
		"-ss", "0",
		"-i", input,
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "mjpeg", "pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg 截帧失败: %w: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg 未输出帧")
	}
	return stdout.Bytes(), nil
}
