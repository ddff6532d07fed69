package main

import (
	"compress/bzip2"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/logging"
)

type model struct {
	Name string
	URL  string
	Dir  string
}

func cmdDownloadModels(args []string) error {
	modelDir := cfg.Recognition.ModelPath
	cascadeDir := filepath.Dir(cfg.Recognition.CascadeFile)
	if len(args) > 0 {
		modelDir, cascadeDir = args[0], args[0]
	}

	logging.Infof("Downloading models to: %s", modelDir)

	models := []model{
		{
			Name: "shape_predictor_5_face_landmarks.dat",
			URL:  "http://dlib.net/files/shape_predictor_5_face_landmarks.dat.bz2",
			Dir:  modelDir,
		},
		{
			Name: "dlib_face_recognition_resnet_model_v1.dat",
			URL:  "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
			Dir:  modelDir,
		},
		{
			Name: "mmod_human_face_detector.dat",
			URL:  "http://dlib.net/files/mmod_human_face_detector.dat.bz2",
			Dir:  modelDir,
		},
		{
			Name: filepath.Base(cfg.Recognition.CascadeFile),
			URL:  "https://raw.githubusercontent.com/opencv/opencv/4.x/data/haarcascades/haarcascade_frontalface_default.xml",
			Dir:  cascadeDir,
		},
	}

	for _, m := range models {
		if err := os.MkdirAll(m.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create model directory: %w", err)
		}

		targetPath := filepath.Join(m.Dir, m.Name)
		if _, err := os.Stat(targetPath); err == nil {
			logging.Infof("Model %s already exists, skipping", m.Name)
			continue
		}

		logging.Infof("Downloading %s...", m.Name)
		if err := download(m.URL, targetPath); err != nil {
			_ = os.Remove(targetPath)
			return fmt.Errorf("failed to download %s: %w", m.Name, err)
		}
		logging.Infof("Successfully downloaded %s", m.Name)
	}

	logging.Info("All models downloaded successfully!")
	return nil
}

// download fetches url into targetPath, decompressing .bz2 archives on the fly.
func download(url, targetPath string) error {
	client := &http.Client{
		Timeout: 10 * time.Minute,
	}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	out, err := os.Create(targetPath)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	var body io.Reader = resp.Body
	if strings.HasSuffix(url, ".bz2") {
		body = bzip2.NewReader(resp.Body)
	}

	_, err = io.Copy(out, body)
	return err
}
