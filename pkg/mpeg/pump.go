package mpeg

import (
	"errors"
	"io"
	"math"
	"strconv"
)

type step int

const (
	stepReady step = iota
	stepAgain
	stepEnd
)

var errStalled = errors.New("mpeg: decoder accepts neither input nor output")

// codecSteps is the send/receive surface of an FFmpeg decoder plus the
// demuxer feeding it.
type codecSteps interface {
	// receive pulls one decoded frame. stepEnd means fully drained.
	receive() (step, error)
	// send submits the queued packet, or the flush packet when flush is set.
	send(flush bool) (step, error)
	// read queues the next video packet. stepEnd means the input is exhausted.
	read() (step, error)
}

// packetPump drives a decoder through the send/receive protocol. Once input
// runs out it flushes the decoder so frames still buffered by frame threads
// come out before io.EOF.
type packetPump struct {
	queued   bool
	draining bool
}

func (p *packetPump) next(c codecSteps) error {
	for {
		if p.queued {
			st, err := c.send(p.draining)
			if err != nil {
				return err
			}
			// stepAgain: the decoder is full, resend after the next receive.
			p.queued = st == stepAgain
		}

		st, err := c.receive()
		if err != nil {
			return err
		}
		switch st {
		case stepReady:
			return nil
		case stepEnd:
			return io.EOF
		}

		switch {
		case p.queued:
			return errStalled
		case p.draining:
			return io.EOF
		}
		st, err = c.read()
		if err != nil {
			return err
		}
		p.draining = st == stepEnd
		p.queued = true
	}
}

// displayRotation returns the clockwise rotation in degrees, in [0, 360).
// ccw is the display matrix angle, counterclockwise as FFmpeg reports it.
// The legacy "rotate" tag is used when the stream has no display matrix.
func displayRotation(ccw float64, hasMatrix bool, tag string) int {
	deg := 0
	switch {
	case hasMatrix && !math.IsNaN(ccw):
		deg = int(math.Round(-ccw))
	case tag != "":
		v, err := strconv.Atoi(tag)
		if err != nil {
			return 0
		}
		deg = v
	}
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}
