package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/vearutop/jpegfix"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "info":
		if err := runInfo(os.Args[2:]); err != nil {
			fail(err)
		}
	case "thumbs":
		if err := runThumbs(os.Args[2:]); err != nil {
			fail(err)
		}
	case "decode":
		if err := runDecode(os.Args[2:]); err != nil {
			fail(err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: jpegfixtool <command> [args]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  info   -in input.jpg")
	fmt.Fprintln(os.Stderr, "  thumbs -in input.jpg -out thumb.png [-max 256]")
	fmt.Fprintln(os.Stderr, "  decode -in input.jpg -out output.png [-fast-cmyk] [-allow-bad-icc]")
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func openReader(path string, opts ...func(*jpegfix.Options)) (*jpegfix.Reader, *os.File, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, err
	}

	opts = append(opts, jpegfix.WithWarningSink(func(msg string) {
		fmt.Fprintln(os.Stderr, "Warning:", msg)
	}))

	r := jpegfix.NewReader(opts...)
	if err := r.SetInput(f); err != nil {
		f.Close() //nolint:errcheck,gosec
		return nil, nil, err
	}
	return r, f, nil
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	inPath := fs.String("in", "", "input JPEG")
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" {
		return errors.New("missing required arguments")
	}

	r, f, err := openReader(*inPath)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck
	defer r.Close() //nolint:errcheck
	ctx := context.Background()

	n, err := r.NumImages(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Images:", n)
	if n == 0 {
		return nil
	}

	w, err := r.Width(0)
	if err != nil {
		return err
	}
	h, err := r.Height(0)
	if err != nil {
		return err
	}
	fmt.Printf("Size: %dx%d\n", w, h)

	cs, err := r.SourceColorSpace()
	if err != nil {
		return err
	}
	fmt.Println("Source color space:", cs)

	profile, err := r.EmbeddedProfile()
	if err != nil {
		return err
	}
	if profile != nil {
		fmt.Printf("ICC profile: %d bytes, %d component(s), sRGB=%v\n",
			len(profile.Data()), profile.NumComponents(), profile.IsSRGB())
	}

	thumbs, err := r.Thumbnails(0)
	if err != nil {
		return err
	}
	for i, t := range thumbs {
		fmt.Printf("Thumbnail %d: %dx%d\n", i, t.Width(), t.Height())
	}
	return nil
}

func runThumbs(args []string) error {
	fs := flag.NewFlagSet("thumbs", flag.ContinueOnError)
	inPath := fs.String("in", "", "input JPEG")
	outPath := fs.String("out", "", "output PNG (index appended for multiple thumbnails)")
	maxSize := fs.Int("max", 0, "fit thumbnails into this bounding box")
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" || *outPath == "" {
		return errors.New("missing required arguments")
	}

	r, f, err := openReader(*inPath)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck
	defer r.Close() //nolint:errcheck
	ctx := context.Background()

	thumbs, err := r.Thumbnails(0)
	if err != nil {
		return err
	}
	if len(thumbs) == 0 {
		return errors.New("no thumbnails")
	}

	for i, t := range thumbs {
		img, err := t.Read(ctx)
		if err != nil {
			return fmt.Errorf("thumbnail %d: %w", i, err)
		}
		if *maxSize > 0 {
			img = jpegfix.FitThumbnail(img, *maxSize, *maxSize)
		}

		path := *outPath
		if len(thumbs) > 1 {
			ext := filepath.Ext(path)
			path = fmt.Sprintf("%s.%d%s", path[:len(path)-len(ext)], i, ext)
		}
		if err := writePNG(path, img); err != nil {
			return err
		}
		fmt.Println("Wrote", path)
	}
	return nil
}

func runDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	inPath := fs.String("in", "", "input JPEG")
	outPath := fs.String("out", "", "output PNG")
	fastCMYK := fs.Bool("fast-cmyk", false, "use the fast CMYK conversion")
	allowBadICC := fs.Bool("allow-bad-icc", false, "tolerate badly indexed ICC chunks")
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" || *outPath == "" {
		return errors.New("missing required arguments")
	}

	var opts []func(*jpegfix.Options)
	if *fastCMYK {
		opts = append(opts, jpegfix.WithFastCMYK())
	}
	if *allowBadICC {
		opts = append(opts, jpegfix.WithBadICCIndexes())
	}

	r, f, err := openReader(*inPath, opts...)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck
	defer r.Close() //nolint:errcheck

	img, err := r.Read(context.Background(), 0, nil)
	if err != nil {
		return err
	}
	if err := writePNG(*outPath, img); err != nil {
		return err
	}
	fmt.Println("Wrote", *outPath)
	return nil
}

func writePNG(path string, img image.Image) error {
	out, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close() //nolint:errcheck,gosec
		return err
	}
	return out.Close()
}
