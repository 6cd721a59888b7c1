package browser

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	screen := strings.ReplaceAll(m.cfg.WindowSize, ",", "x") + "x24"
	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", screen, "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	m.xvfb = cmd

	// Xvfb accepts connections shortly after exec.
	time.Sleep(500 * time.Millisecond)

	m.cfg.Logger.Info("browser: xvfb started", "display", m.cfg.XvfbDisplay, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if m.xvfb.Process != nil {
		m.xvfb.Process.Kill()
		m.xvfb.Wait()
	}
	m.cfg.Logger.Info("browser: xvfb stopped")
	m.xvfb = nil
}
