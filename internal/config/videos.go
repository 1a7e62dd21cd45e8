package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// videoExts are the file extensions recognised during directory discovery.
var videoExts = map[string]bool{
	".mp4": true,
	".m4v": true,
	".mov": true,
	".avi": true,
	".mkv": true,
}

// DiscoverVideos lists the playable video files in dir, sorted by name.
func DiscoverVideos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &ConfigError{fmt.Errorf("failed to read video directory %q: %w", dir, err)}
	}

	var videos []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if videoExts[strings.ToLower(filepath.Ext(e.Name()))] {
			videos = append(videos, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(videos)

	if len(videos) == 0 {
		return nil, &ConfigError{fmt.Errorf("no videos found in %q; specify a different directory or filenames", dir)}
	}

	return videos, nil
}

// isStreamURL reports whether a video path is a network stream rather
// than a local file.
func isStreamURL(v string) bool {
	return strings.HasPrefix(v, "rtsp://") || strings.HasPrefix(v, "rtmp://")
}
