package uvc

import (
	"context"
	"log/slog"

	"github.com/aktnk/camerad/internal/domain/models"
)

// Prober enumerates local capture devices. The enumeration mechanism is
// platform specific; see the per-OS files.
type Prober struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Prober {
	return &Prober{
		log: log,
	}
}

// Probe lists usable video capture devices together with the best capture
// tuple each one offers. Metadata-only nodes are filtered out.
func (p *Prober) Probe(ctx context.Context) ([]models.UVCDevice, error) {
	return p.listDevices(ctx)
}

// capability is one format/size/rate tuple a device advertises.
type capability struct {
	PixelFmt string
	Width    int
	Height   int
	FPS      int
}

// bestCapability ranks capture tuples: MJPG beats raw formats since it
// keeps USB bandwidth low at high resolutions, then larger area, then
// higher rate.
func bestCapability(caps []capability) (capability, bool) {
	if len(caps) == 0 {
		return capability{}, false
	}

	best := caps[0]
	for _, c := range caps[1:] {
		if capabilityLess(best, c) {
			best = c
		}
	}

	return best, true
}

func capabilityLess(a, b capability) bool {
	aMJPG, bMJPG := a.PixelFmt == "MJPG", b.PixelFmt == "MJPG"
	if aMJPG != bMJPG {
		return bMJPG
	}

	aArea, bArea := a.Width*a.Height, b.Width*b.Height
	if aArea != bArea {
		return aArea < bArea
	}

	return a.FPS < b.FPS
}
