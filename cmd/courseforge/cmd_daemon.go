package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/felixgeelhaar/courseforge/internal/api/middleware"
	"github.com/felixgeelhaar/courseforge/internal/config"
	"github.com/felixgeelhaar/courseforge/internal/engine"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// cmdStart starts the daemon in the background
func cmdStart() error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	addr := daemonAddr(cfg)

	if isRunning(addr) {
		fmt.Println("✓ Daemon is already running")
		return nil
	}

	dir, err := config.EnsureCourseforgeDir()
	if err != nil {
		return fmt.Errorf("setup courseforge directory: %w", err)
	}

	binary, err := findDaemonBinary()
	if err != nil {
		return fmt.Errorf("find daemon binary: %w", err)
	}

	cmd := exec.Command(binary)
	cmd.Dir = dir
	cmd.Stdout = nil
	cmd.Stderr = nil
	configureDaemonProcess(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Print("Starting daemon...")
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if isRunning(addr) {
			fmt.Println(" ✓")
			fmt.Printf("Daemon running at %s\n", addr)
			return nil
		}
		fmt.Print(".")
	}

	fmt.Println(" ✗")
	return fmt.Errorf("daemon failed to start (check logs with 'courseforge logs')")
}

// cmdStop stops the daemon
func cmdStop() error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	addr := daemonAddr(cfg)

	if !isRunning(addr) {
		fmt.Println("Daemon is not running")
		return nil
	}

	dir, err := config.CourseforgeDir()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(dir, pidFile))
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse PID: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	fmt.Print("Stopping daemon...")
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isRunning(addr) {
			fmt.Println(" ✓")
			return nil
		}
		fmt.Print(".")
	}

	fmt.Println(" ✗")
	return fmt.Errorf("daemon did not stop gracefully")
}

// cmdStatus shows daemon status and, when a learner is configured, the
// learner's level and course progress.
func cmdStatus() error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	addr := daemonAddr(cfg)

	if !isRunning(addr) {
		fmt.Println("Status: stopped")
		return nil
	}
	fmt.Println("Status:  running")
	fmt.Printf("Address: %s\n", addr)

	learnerID, err := cfg.LearnerID()
	if err != nil {
		return nil
	}

	req, err := http.NewRequest(http.MethodGet, addr+"/api/v1/me", nil)
	if err != nil {
		return err
	}
	req.Header.Set(middleware.LearnerIDHeader, learnerID.String())

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get learner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		fmt.Println("Learner: not created yet")
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get learner: unexpected status %d", resp.StatusCode)
	}

	var state engine.LearnerState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	fmt.Println()
	fmt.Printf("Level %d  %s %d/%d XP  (%d total)\n",
		state.Learner.Level,
		renderProgressBar(ratio(state.Learner.XP, state.RequiredXP), 20),
		state.Learner.XP, state.RequiredXP, state.TotalXP)

	if len(state.Courses) > 0 {
		fmt.Println("\nCourses")
		fmt.Println("-------")
		for _, c := range state.Courses {
			fmt.Printf("%-30s %s %d/%d\n", truncate(c.Title, 30),
				renderProgressBar(ratio(len(c.Progress), c.Units), 20), len(c.Progress), c.Units)
		}
	}
	if len(state.Projects) > 0 {
		fmt.Println("\nProjects")
		fmt.Println("--------")
		for _, p := range state.Projects {
			fmt.Printf("%-30s %s %d/%d\n", truncate(p.Title, 30),
				renderProgressBar(ratio(len(p.Progress), p.Steps), 20), len(p.Progress), p.Steps)
		}
	}

	return nil
}

// cmdLogs shows daemon logs
func cmdLogs() error {
	dir, err := config.CourseforgeDir()
	if err != nil {
		return err
	}

	logPath := filepath.Join(dir, "logs", "courseforged.log")

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Println("No log file found. Start the daemon first.")
		return nil
	}

	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	// Seek to end and go back ~4KB for recent logs
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	offset := max(info.Size()-4096, 0)
	_, _ = file.Seek(offset, 0)

	reader := bufio.NewReader(file)
	if offset > 0 {
		// Skip partial first line
		_, _ = reader.ReadString('\n')
	}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}

	return scanner.Err()
}

// isRunning checks if the daemon is running by calling the health endpoint
func isRunning(addr string) bool {
	resp, err := httpClient.Get(addr + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// findDaemonBinary locates the courseforged binary
func findDaemonBinary() (string, error) {
	if path, err := exec.LookPath("courseforged"); err == nil {
		return path, nil
	}

	// Next to this binary
	if self, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(self), "courseforged")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	for _, path := range []string{
		"/usr/local/bin/courseforged",
		"./courseforged",
		"./cmd/courseforged/courseforged",
	} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("courseforged binary not found (build with 'go build ./cmd/courseforged')")
}

func ratio(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
