package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"wallvault/internal/core"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "upload":
		err = runUpload(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  vaultctl upload -server URL -secret CODE -title T -category C -device mobile|pc FILES...
  vaultctl stats  -server URL [-device mobile|pc]`)
}

func runUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "gallery server base URL")
	secret := fs.String("secret", "", "operator secret")
	title := fs.String("title", "", "wallpaper title (batches get #n suffixes)")
	category := fs.String("category", "", "category label")
	device := fs.String("device", "mobile", "device type: mobile or pc")
	fs.Parse(args)

	paths, err := core.CollectImages(fs.Args())
	if err != nil {
		return err
	}

	body, contentType, err := buildForm(paths, *title, *category, *device)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/upload?secret=%s", *server, url.QueryEscape(*secret))
	resp, err := http.Post(endpoint, contentType, body)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Uploaded int `json:"uploaded"`
		Failed   int `json:"failed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("unexpected response (%s): %w", resp.Status, err)
	}
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("upload rejected: %s (%d uploaded, %d failed)",
			resp.Status, result.Uploaded, result.Failed)
	}

	fmt.Printf("✓ Uploaded %d wallpaper(s), %d failed\n", result.Uploaded, result.Failed)
	return nil
}

func buildForm(paths []string, title, category, device string) (io.Reader, string, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := writeForm(writer, paths, title, category, device)
		writer.Close()
		pw.CloseWithError(err)
	}()

	return pr, writer.FormDataContentType(), nil
}

func writeForm(writer *multipart.Writer, paths []string, title, category, device string) error {
	fields := map[string]string{
		"title":       title,
		"category":    category,
		"device_type": device,
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return err
		}
	}

	for _, p := range paths {
		part, err := writer.CreateFormFile("files", filepath.Base(p))
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "gallery server base URL")
	device := fs.String("device", "", "device type scope: mobile or pc")
	fs.Parse(args)

	endpoint := fmt.Sprintf("%s/api/stats?device=%s", *server, url.QueryEscape(*device))
	resp, err := http.Get(endpoint)
	if err != nil {
		return fmt.Errorf("stats request failed: %w", err)
	}
	defer resp.Body.Close()

	var stats struct {
		TotalWallpapers   int `json:"total_wallpapers"`
		TotalDownloads    int `json:"total_downloads"`
		Downloads24h      int `json:"downloads_24h"`
		PopularCategories []struct {
			Category  string `json:"category"`
			Downloads int    `json:"downloads"`
		} `json:"popular_categories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("unexpected response (%s): %w", resp.Status, err)
	}

	fmt.Printf("Wallpapers:     %d\n", stats.TotalWallpapers)
	fmt.Printf("Downloads:      %d\n", stats.TotalDownloads)
	fmt.Printf("Last 24 hours:  %d\n", stats.Downloads24h)
	if len(stats.PopularCategories) > 0 {
		fmt.Println("Top categories:")
		for _, cc := range stats.PopularCategories {
			fmt.Printf("  %-20s %d\n", cc.Category, cc.Downloads)
		}
	}
	return nil
}
