package encoder

import "strconv"

const (
	qualityMin = 18
	qualityMax = 28
)

func clampQuality(q int) int {
	if q < qualityMin {
		return qualityMin
	}
	if q > qualityMax {
		return qualityMax
	}

	return q
}

// InputArgs returns extra ffmpeg input-side flags an encoder needs.
// Only vaapi requires any: the hardware device and the upload filter.
func InputArgs(enc string) []string {
	if enc == "h264_vaapi" {
		return []string{"-vaapi_device", "/dev/dri/renderD128"}
	}

	return nil
}

// Args builds the video-encoding flag bag for one encoder. quality is
// CRF for software encoders and CQ/QP for the hardware ones, clamped to
// the sane visual range. The GOP is pinned to two seconds so HLS segment
// boundaries always land on a keyframe.
func Args(enc, preset string, quality, fps int) []string {
	q := strconv.Itoa(clampQuality(quality))
	gop := strconv.Itoa(fps * 2)

	args := []string{"-c:v", enc}

	switch enc {
	case "h264_nvenc":
		args = append(args, "-preset", "p4", "-rc", "vbr", "-cq", q, "-b:v", "0")
	case "h264_qsv":
		args = append(args, "-preset", presetOr(preset, "medium"), "-global_quality", q)
	case "h264_amf":
		args = append(args, "-quality", "balanced", "-rc", "cqp", "-qp_i", q, "-qp_p", q)
	case "h264_vaapi":
		args = append(args, "-vf", "format=nv12,hwupload", "-qp", q)
	case "h264_videotoolbox":
		args = append(args, "-q:v", strconv.Itoa(videotoolboxQuality(clampQuality(quality))))
	default: // libx264 and anything unknown
		args = append(args, "-preset", presetOr(preset, "ultrafast"), "-crf", q, "-pix_fmt", "yuv420p")
	}

	return append(args, "-g", gop)
}

func presetOr(preset, fallback string) string {
	if preset == "" {
		return fallback
	}

	return preset
}

// videotoolbox quality runs 1..100 with higher meaning better, inverse
// of the CRF scale.
func videotoolboxQuality(crf int) int {
	return 100 - (crf-qualityMin)*4
}
