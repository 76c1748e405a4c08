package extractor

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// OcrEngine recognizes text in a single page image (PNG).
type OcrEngine interface {
	Recognize(image []byte) (string, error)
	Close() error
}

// DetectRasterizer reports whether a PDF-to-image converter is available.
// OCR needs pdftoppm (Poppler) or magick (ImageMagick) on PATH.
func DetectRasterizer() bool {
	if _, err := exec.LookPath("pdftoppm"); err == nil {
		return true
	}
	if _, err := exec.LookPath("magick"); err == nil {
		return true
	}
	return false
}

// ocrSem limits concurrent recognition. OCR is CPU-heavy and running one
// process per page thrashes on large documents.
var ocrSem = make(chan struct{}, runtime.NumCPU())

// ocrDocument rasterizes up to ocrPageCap pages and recognizes each one.
// Pages are recognized concurrently and reassembled in order. Returns ""
// when nothing useful was recognized.
func (e *Engine) ocrDocument(buf []byte, pageCount int) string {
	tmpDir, err := os.MkdirTemp("", "lessonforge-ocr-*")
	if err != nil {
		log.Printf("extractor: ocr temp dir: %v", err)
		return ""
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "doc.pdf")
	if err := os.WriteFile(pdfPath, buf, 0o600); err != nil {
		log.Printf("extractor: ocr write pdf: %v", err)
		return ""
	}

	lastPage := pageCount
	if lastPage > ocrPageCap {
		lastPage = ocrPageCap
	}

	images, err := rasterize(pdfPath, filepath.Join(tmpDir, "page"), lastPage)
	if err != nil {
		log.Printf("extractor: rasterize: %v", err)
		return ""
	}

	texts := make([]string, len(images))
	var wg sync.WaitGroup
	for i, img := range images {
		wg.Add(1)
		go func(idx int, file string) {
			defer wg.Done()
			ocrSem <- struct{}{}
			defer func() { <-ocrSem }()

			data, err := os.ReadFile(file)
			if err != nil {
				return
			}
			text, err := e.OCR.Recognize(data)
			if err != nil {
				log.Printf("extractor: ocr page %d: %v", idx+1, err)
				return
			}
			texts[idx] = strings.TrimSpace(text)
		}(i, img)
	}
	wg.Wait()

	var parts []string
	for _, t := range texts {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// rasterize converts pages 1..lastPage of a PDF to PNGs, preferring
// pdftoppm and falling back to ImageMagick. Returns the image paths in
// page order.
func rasterize(pdfPath, imagePrefix string, lastPage int) ([]string, error) {
	converted := false
	var convertErr error

	if pdftoppmPath, lookErr := exec.LookPath("pdftoppm"); lookErr == nil {
		cmd := exec.Command(pdftoppmPath, "-png", "-r", "200",
			"-f", "1", "-l", strconv.Itoa(lastPage), pdfPath, imagePrefix)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err == nil {
			converted = true
		} else {
			convertErr = fmt.Errorf("pdftoppm: %v (stderr: %s)", err, stderr.String())
		}
	}

	if !converted {
		if magickPath, lookErr := exec.LookPath("magick"); lookErr == nil {
			pageRange := fmt.Sprintf("%s[0-%d]", pdfPath, lastPage-1)
			cmd := exec.Command(magickPath, "convert", "-density", "200",
				pageRange, imagePrefix+"-%03d.png")
			var stderr bytes.Buffer
			cmd.Stderr = &stderr
			if err := cmd.Run(); err == nil {
				converted = true
			} else {
				convertErr = fmt.Errorf("magick: %v (stderr: %s)", err, stderr.String())
			}
		}
	}

	if !converted {
		if convertErr != nil {
			return nil, convertErr
		}
		return nil, fmt.Errorf("no rasterizer found: install Poppler (pdftoppm) or ImageMagick (magick)")
	}

	images, err := filepath.Glob(imagePrefix + "*")
	if err != nil || len(images) == 0 {
		return nil, fmt.Errorf("no page images generated")
	}
	sortImageFiles(images)
	if len(images) > lastPage {
		images = images[:lastPage]
	}
	return images, nil
}

var imageNumRe = regexp.MustCompile(`(\d+)\.png$`)

// sortImageFiles orders image paths by the page number embedded in the
// filename, so concurrent recognition reassembles pages correctly.
func sortImageFiles(files []string) {
	sort.Slice(files, func(i, j int) bool {
		return imageFileNum(files[i]) < imageFileNum(files[j])
	})
}

func imageFileNum(path string) int {
	m := imageNumRe.FindStringSubmatch(filepath.Base(path))
	if len(m) >= 2 {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}
