package mpeg

/*
#cgo pkg-config: libavformat libavcodec libavutil libswscale

#include <stdlib.h>
#include <libavformat/avformat.h>
#include <libavcodec/avcodec.h>
#include <libavutil/display.h>
#include <libavutil/imgutils.h>
#include <libavutil/log.h>
#include <libswscale/swscale.h>

typedef struct {
    AVFormatContext   *formatCtx;
    AVCodecContext    *codecCtx;
    AVFrame           *frame;
    AVFrame           *frameRGBA;
    AVPacket          *packet;
    struct SwsContext *swsCtx;
    uint8_t           *bufferRGBA;
    int               videoStream;
} Decoder;

enum {
    DEC_OK            = 0,
    DEC_OPEN_FAILED   = -1,
    DEC_NO_STREAMINFO = -2,
    DEC_NO_VIDEO      = -3,
    DEC_NOT_FOUND     = -4,
    DEC_MISMATCH      = -5,
    DEC_CODEC_FAILED  = -6,
    DEC_SCALER_FAILED = -7,
};

static int open_input(const char *filename, Decoder *d) {
    av_log_set_level(AV_LOG_ERROR);
    d->videoStream = -1;
    if (avformat_open_input(&d->formatCtx, filename, NULL, NULL) != 0) {
        return DEC_OPEN_FAILED;
    }
    if (avformat_find_stream_info(d->formatCtx, NULL) < 0) {
        return DEC_NO_STREAMINFO;
    }
    int idx = av_find_best_stream(d->formatCtx, AVMEDIA_TYPE_VIDEO, -1, -1, NULL, 0);
    if (idx < 0) {
        return DEC_NO_VIDEO;
    }
    d->videoStream = idx;
    d->packet = av_packet_alloc();
    return d->packet ? DEC_OK : DEC_OPEN_FAILED;
}

static AVStream *video_stream(Decoder *d) {
    return d->formatCtx->streams[d->videoStream];
}

static const char *stream_codec_name(Decoder *d) {
    return avcodec_get_name(video_stream(d)->codecpar->codec_id);
}

// Opens the named decoder, or the default one for the stream when name is NULL.
static int try_decoder(Decoder *d, const char *name) {
    AVStream *st = video_stream(d);
    const AVCodec *codec = name ? avcodec_find_decoder_by_name(name)
                                : avcodec_find_decoder(st->codecpar->codec_id);
    if (!codec) {
        return DEC_NOT_FOUND;
    }
    if (codec->id != st->codecpar->codec_id) {
        return DEC_MISMATCH;
    }
    AVCodecContext *ctx = avcodec_alloc_context3(codec);
    if (!ctx) {
        return DEC_CODEC_FAILED;
    }
    avcodec_parameters_to_context(ctx, st->codecpar);
    ctx->thread_type = FF_THREAD_FRAME;
    ctx->thread_count = 0;
    if (avcodec_open2(ctx, codec, NULL) < 0) {
        avcodec_free_context(&ctx);
        return DEC_CODEC_FAILED;
    }
    d->codecCtx = ctx;
    return DEC_OK;
}

static const char *decoder_name(Decoder *d) {
    return d->codecCtx->codec->name;
}

static int setup_scaler(Decoder *d) {
    int w = d->codecCtx->width;
    int h = d->codecCtx->height;
    d->frame = av_frame_alloc();
    d->frameRGBA = av_frame_alloc();
    if (!d->frame || !d->frameRGBA) {
        return DEC_SCALER_FAILED;
    }
    int size = av_image_get_buffer_size(AV_PIX_FMT_RGBA, w, h, 1);
    d->bufferRGBA = (uint8_t *)av_malloc(size);
    if (!d->bufferRGBA) {
        return DEC_SCALER_FAILED;
    }
    av_image_fill_arrays(d->frameRGBA->data, d->frameRGBA->linesize, d->bufferRGBA, AV_PIX_FMT_RGBA, w, h, 1);
    d->swsCtx = sws_getContext(w, h, d->codecCtx->pix_fmt, w, h, AV_PIX_FMT_RGBA, SWS_BILINEAR, NULL, NULL, NULL);
    return d->swsCtx ? DEC_OK : DEC_SCALER_FAILED;
}

// Receive and send results shared with the Go pump.
enum {
    STEP_READY = 0,
    STEP_AGAIN = 1,
    STEP_END   = 2,
};

// Pulls one decoded frame into d->frame.
static int receive_frame(Decoder *d) {
    int ret = avcodec_receive_frame(d->codecCtx, d->frame);
    if (ret == 0) {
        return STEP_READY;
    }
    if (ret == AVERROR(EAGAIN)) {
        return STEP_AGAIN;
    }
    if (ret == AVERROR_EOF) {
        return STEP_END;
    }
    return ret;
}

// Sends the queued packet, or the flush packet once input has ended. On
// STEP_AGAIN the packet stays queued for the next call.
static int send_packet(Decoder *d, int flush) {
    int ret = avcodec_send_packet(d->codecCtx, flush ? NULL : d->packet);
    if (ret == AVERROR(EAGAIN)) {
        return STEP_AGAIN;
    }
    if (!flush) {
        av_packet_unref(d->packet);
    }
    if (ret == AVERROR_EOF) {
        return STEP_END;
    }
    return ret < 0 ? ret : STEP_READY;
}

// Reads the next packet of the video stream into d->packet.
static int read_packet(Decoder *d) {
    while (av_read_frame(d->formatCtx, d->packet) >= 0) {
        if (d->packet->stream_index == d->videoStream) {
            return STEP_READY;
        }
        av_packet_unref(d->packet);
    }
    return STEP_END;
}

static void convert_frame(Decoder *d, uint8_t **rgba, double *pts) {
    sws_scale(d->swsCtx, (const uint8_t *const *)d->frame->data, d->frame->linesize,
              0, d->codecCtx->height, d->frameRGBA->data, d->frameRGBA->linesize);
    *rgba = d->frameRGBA->data[0];
    int64_t ts = d->frame->best_effort_timestamp;
    *pts = ts == AV_NOPTS_VALUE ? -1 : ts * av_q2d(video_stream(d)->time_base);
}

static double decoder_fps(Decoder *d) {
    AVRational r = av_guess_frame_rate(d->formatCtx, video_stream(d), NULL);
    return r.den == 0 ? 0 : av_q2d(r);
}

// Counterclockwise rotation from the stream's display matrix. Sets *ok to 0
// when the stream carries none.
static double display_matrix_rotation(Decoder *d, int *ok) {
    AVStream *st = video_stream(d);
    const int32_t *matrix = NULL;
#if LIBAVCODEC_VERSION_INT >= AV_VERSION_INT(60, 29, 100)
    const AVPacketSideData *sd = av_packet_side_data_get(st->codecpar->coded_side_data,
                                                         st->codecpar->nb_coded_side_data,
                                                         AV_PKT_DATA_DISPLAYMATRIX);
    if (sd && sd->size >= 9 * sizeof(int32_t)) {
        matrix = (const int32_t *)sd->data;
    }
#else
    size_t size = 0;
    const uint8_t *data = av_stream_get_side_data(st, AV_PKT_DATA_DISPLAYMATRIX, &size);
    if (data && size >= 9 * sizeof(int32_t)) {
        matrix = (const int32_t *)data;
    }
#endif
    *ok = matrix != NULL;
    return matrix ? av_display_rotation_get(matrix) : 0;
}

// The legacy "rotate" tag, or NULL.
static const char *rotate_tag(Decoder *d) {
    AVDictionaryEntry *tag = av_dict_get(video_stream(d)->metadata, "rotate", NULL, 0);
    return tag ? tag->value : NULL;
}

static void close_decoder(Decoder *d) {
    if (d->swsCtx) {
        sws_freeContext(d->swsCtx);
        d->swsCtx = NULL;
    }
    av_freep(&d->bufferRGBA);
    av_frame_free(&d->frameRGBA);
    av_frame_free(&d->frame);
    av_packet_free(&d->packet);
    avcodec_free_context(&d->codecCtx);
    if (d->formatCtx) {
        avformat_close_input(&d->formatCtx);
    }
}
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
)

var (
	ErrOpen      = errors.New("mpeg: could not open input")
	ErrNoVideo   = errors.New("mpeg: no video stream")
	ErrNoDecoder = errors.New("mpeg: no working decoder")
)

// hardwareDecoders lists accelerated decoders to try before the software one,
// keyed by FFmpeg codec name. V4L2 mem2mem decoders are left out for HEVC,
// H.264 and MPEG-2: they do not work on the Raspberry Pi 4.
func hardwareDecoders(codec string) []string {
	switch runtime.GOOS {
	case "linux":
		switch codec {
		case "hevc":
			return []string{"hevc_rkmpp", "hevc_vaapi", "hevc_nvdec"}
		case "h264":
			return []string{"h264_rkmpp", "h264_vaapi", "h264_nvdec", "h264_cuvid"}
		case "vp9":
			return []string{"vp9_v4l2m2m", "vp9_vaapi"}
		case "vp8":
			return []string{"vp8_v4l2m2m", "vp8_vaapi"}
		case "av1":
			return []string{"av1_v4l2m2m", "av1_vaapi"}
		case "mpeg2video":
			return []string{"mpeg2_vaapi"}
		case "mpeg4":
			return []string{"mpeg4_v4l2m2m", "mpeg4_vaapi"}
		}
	case "darwin":
		switch codec {
		case "hevc":
			return []string{"hevc_videotoolbox"}
		case "h264":
			return []string{"h264_videotoolbox"}
		}
	}
	return nil
}

// videoDecoder turns a media file into RGBA frames. It is not safe for
// concurrent use.
type videoDecoder struct {
	cdec     C.Decoder
	pump     packetPump
	width    int
	height   int
	fps      float64
	rotation int
}

func newVideoDecoder(path string, opts Options, log zerolog.Logger) (*videoDecoder, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	d := &videoDecoder{}
	switch ret := C.open_input(cPath, &d.cdec); ret {
	case C.DEC_OK:
	case C.DEC_NO_VIDEO:
		d.close()
		return nil, fmt.Errorf("%w: %s", ErrNoVideo, path)
	default:
		d.close()
		return nil, fmt.Errorf("%w: %s (code=%d)", ErrOpen, path, int(ret))
	}

	codec := C.GoString(C.stream_codec_name(&d.cdec))
	var candidates []string
	switch {
	case opts.ForceSoftware:
		log.Info().Msg("software decoding forced")
	case opts.Decoder != "":
		candidates = append(candidates, opts.Decoder)
	}
	if !opts.ForceSoftware {
		candidates = append(candidates, hardwareDecoders(codec)...)
	}

	opened := false
	for _, name := range candidates {
		cName := C.CString(name)
		ret := C.try_decoder(&d.cdec, cName)
		C.free(unsafe.Pointer(cName))
		if ret == C.DEC_OK {
			opened = true
			break
		}
		log.Debug().Str("decoder", name).Str("codec", codec).Int("code", int(ret)).Msg("decoder unavailable")
	}
	if !opened && C.try_decoder(&d.cdec, nil) != C.DEC_OK {
		d.close()
		return nil, fmt.Errorf("%w for codec %s", ErrNoDecoder, codec)
	}
	if ret := C.setup_scaler(&d.cdec); ret != C.DEC_OK {
		d.close()
		return nil, fmt.Errorf("mpeg: scaler setup failed (code=%d)", int(ret))
	}

	d.width = int(d.cdec.codecCtx.width)
	d.height = int(d.cdec.codecCtx.height)
	var hasMatrix C.int
	ccw := float64(C.display_matrix_rotation(&d.cdec, &hasMatrix))
	var tag string
	if t := C.rotate_tag(&d.cdec); t != nil {
		tag = C.GoString(t)
	}
	d.rotation = displayRotation(ccw, hasMatrix != 0, tag)
	d.fps = float64(C.decoder_fps(&d.cdec))
	if d.fps <= 0 {
		d.fps = 30
	}

	log.Info().
		Str("decoder", C.GoString(C.decoder_name(&d.cdec))).
		Str("codec", codec).
		Int("width", d.width).
		Int("height", d.height).
		Float64("fps", d.fps).
		Int("rotation", d.rotation).
		Msg("decoder ready")
	return d, nil
}

// nextFrame returns a copy of the next decoded picture and its presentation
// time, or io.EOF once the decoder has been drained.
func (d *videoDecoder) nextFrame() ([]byte, time.Duration, error) {
	if err := d.pump.next(d); err != nil {
		return nil, 0, err
	}
	var data *C.uint8_t
	var pts C.double
	C.convert_frame(&d.cdec, &data, &pts)
	pix := C.GoBytes(unsafe.Pointer(data), C.int(d.width*d.height*4))
	return pix, time.Duration(float64(pts) * float64(time.Second)), nil
}

func stepResult(op string, ret C.int) (step, error) {
	switch ret {
	case C.STEP_READY:
		return stepReady, nil
	case C.STEP_AGAIN:
		return stepAgain, nil
	case C.STEP_END:
		return stepEnd, nil
	}
	return 0, fmt.Errorf("mpeg: %s failed (code=%d)", op, int(ret))
}

func (d *videoDecoder) receive() (step, error) {
	return stepResult("receive", C.receive_frame(&d.cdec))
}

func (d *videoDecoder) send(flush bool) (step, error) {
	var f C.int
	if flush {
		f = 1
	}
	return stepResult("send", C.send_packet(&d.cdec, f))
}

func (d *videoDecoder) read() (step, error) {
	return stepResult("read", C.read_packet(&d.cdec))
}

func (d *videoDecoder) close() {
	C.close_decoder(&d.cdec)
}
