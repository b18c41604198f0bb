//go:build gocv

package gaze

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	"gocv.io/x/gocv"
)

// Backend names the camera implementation compiled into this binary.
const Backend = "opencv"

// DefaultCamera opens the webcam and loads Haar cascades for face and eye
// detection.
func DefaultCamera(opts CameraOptions) (FrameSource, Detector, error) {
	opts = opts.withDefaults()
	if opts.FaceCascadePath == "" || opts.EyeCascadePath == "" {
		return nil, nil, newTrackingError("face and eye cascade paths are required", nil)
	}
	cam, err := openCamera(opts)
	if err != nil {
		return nil, nil, err
	}
	det, err := newCascadeDetector(opts.FaceCascadePath, opts.EyeCascadePath)
	if err != nil {
		cam.Close()
		return nil, nil, err
	}
	return cam, det, nil
}

type cvCamera struct {
	opts CameraOptions

	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

func openCamera(opts CameraOptions) (*cvCamera, error) {
	capture, err := gocv.OpenVideoCapture(opts.DeviceID)
	if err != nil {
		return nil, newTrackingError(fmt.Sprintf("open camera %d", opts.DeviceID), err)
	}
	capture.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	return &cvCamera{opts: opts, capture: capture, mat: gocv.NewMat()}, nil
}

func (c *cvCamera) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return Frame{}, newTrackingError("camera closed", nil)
	}
	if ok := c.capture.Read(&c.mat); !ok || c.mat.Empty() {
		return Frame{}, newTrackingError("camera read returned no frame", nil)
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return Frame{}, newTrackingError("convert camera frame", err)
	}
	b := img.Bounds()
	return Frame{Image: img, Width: b.Dx(), Height: b.Dy(), CapturedAt: c.opts.Clock()}, nil
}

func (c *cvCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return nil
	}
	err := c.capture.Close()
	c.capture = nil
	c.mat.Close()
	return err
}

type cascadeDetector struct {
	mu   sync.Mutex
	face gocv.CascadeClassifier
	eye  gocv.CascadeClassifier
}

func newCascadeDetector(facePath, eyePath string) (*cascadeDetector, error) {
	face := gocv.NewCascadeClassifier()
	if !face.Load(facePath) {
		face.Close()
		return nil, newTrackingError(fmt.Sprintf("load face cascade %q", facePath), nil)
	}
	eye := gocv.NewCascadeClassifier()
	if !eye.Load(eyePath) {
		face.Close()
		eye.Close()
		return nil, newTrackingError(fmt.Sprintf("load eye cascade %q", eyePath), nil)
	}
	return &cascadeDetector{face: face, eye: eye}, nil
}

// Detect finds the largest face and its two eyes. Eye rectangles stand in for
// iris landmarks: the iris outline is approximated by a circle inscribed in
// the eye box.
func (d *cascadeDetector) Detect(ctx context.Context, frame Frame, maxFaces int) ([]Face, error) {
	if maxFaces <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageToMatRGBA(frame.Image)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorRGBAToGray)

	d.mu.Lock()
	defer d.mu.Unlock()

	faces := d.face.DetectMultiScale(gray)
	sort.Slice(faces, func(i, j int) bool {
		return area(faces[i]) > area(faces[j])
	})
	var out []Face
	for _, rect := range faces {
		if len(out) >= maxFaces {
			break
		}
		roi := gray.Region(rect)
		eyes := d.eye.DetectMultiScale(roi)
		roi.Close()
		if len(eyes) < 2 {
			continue
		}
		sort.Slice(eyes, func(i, j int) bool { return area(eyes[i]) > area(eyes[j]) })
		a, b := eyes[0].Add(rect.Min), eyes[1].Add(rect.Min)
		// Camera images are unmirrored: the user's left eye is on the right.
		leftEye, rightEye := a, b
		if a.Min.X < b.Min.X {
			leftEye, rightEye = b, a
		}
		out = append(out, Face{Bounds: rect, LeftIris: irisFromRect(leftEye), RightIris: irisFromRect(rightEye)})
	}
	return out, nil
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

func irisFromRect(r image.Rectangle) Iris {
	cx := float64(r.Min.X+r.Max.X) / 2
	cy := float64(r.Min.Y+r.Max.Y) / 2
	rad := float64(min(r.Dx(), r.Dy())) / 4
	return Iris{
		{X: cx, Y: cy},
		{X: cx - rad, Y: cy},
		{X: cx, Y: cy - rad},
		{X: cx + rad, Y: cy},
		{X: cx, Y: cy + rad},
	}
}
