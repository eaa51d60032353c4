package video

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
)

// ProbeResult describes an RTSP stream that answered a probe
type ProbeResult struct {
	Medias      int
	Codecs      []string
	FirstRTP    time.Duration
	PayloadType uint8
}

// ProbeRTSP verifies that an RTSP URL describes at least one media and
// delivers an RTP packet before ctx expires.
func ProbeRTSP(ctx context.Context, rawURL string) (*ProbeResult, error) {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid rtsp url %q: %v", ErrUnreachable, rawURL, err)
	}

	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	client := &gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, rawURL, err)
	}
	defer client.Close()

	started := time.Now()
	desc, _, err := client.Describe(u)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to describe %s: %v", ErrUnreachable, rawURL, err)
	}
	if len(desc.Medias) == 0 {
		return nil, fmt.Errorf("%w: %s announces no media", ErrUnreachable, rawURL)
	}

	result := &ProbeResult{Medias: len(desc.Medias)}
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			result.Codecs = append(result.Codecs, forma.Codec())
		}
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return nil, fmt.Errorf("%w: failed to setup %s: %v", ErrUnreachable, rawURL, err)
	}

	first := make(chan uint8, 1)
	client.OnPacketRTPAny(func(_ *description.Media, _ format.Format, pkt *rtp.Packet) {
		select {
		case first <- pkt.PayloadType:
		default:
		}
	})

	if _, err := client.Play(nil); err != nil {
		return nil, fmt.Errorf("%w: failed to play %s: %v", ErrUnreachable, rawURL, err)
	}

	select {
	case pt := <-first:
		result.FirstRTP = time.Since(started)
		result.PayloadType = pt
		return result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: no rtp packets from %s: %v", ErrUnreachable, rawURL, ctx.Err())
	}
}
