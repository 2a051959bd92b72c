package app

import (
	"fmt"

	"github.com/mantonx/gstream/internal/config"
	gerrors "github.com/mantonx/gstream/internal/errors"
	"github.com/mantonx/gstream/internal/events"
	"github.com/mantonx/gstream/internal/stream"
)

// ReconfigureHost saves the new host and replaces the current connection
// with one to address:port
func (a *App) ReconfigureHost(address string, port uint16) error {
	const op = "reconfigure_host"
	if address == "" || port == 0 {
		return gerrors.Config(op, fmt.Errorf("host address and port are required"))
	}

	a.settingsMu.Lock()
	defer a.settingsMu.Unlock()

	next := hostAddr{address: address, port: port}
	a.mu.Lock()
	prev := a.host
	a.host = next
	a.mu.Unlock()

	err := a.cfg.Update(func(c *config.Config) {
		c.Host.Address = address
		c.Host.Port = int(port)
	})
	if err != nil {
		a.mu.Lock()
		a.host = prev
		a.mu.Unlock()
		return gerrors.Config(op, err)
	}

	a.logger.Info("reconfiguring host", "address", address, "port", port)
	a.client.Connect(address, port)
	a.publishSettingsChanged("host", map[string]interface{}{"address": address, "port": port})
	return nil
}

// SetPlayerPath saves the player path used by future playbacks. A running
// player is left alone.
func (a *App) SetPlayerPath(path string) error {
	a.settingsMu.Lock()
	defer a.settingsMu.Unlock()

	a.mu.Lock()
	prev := a.playerPath
	a.playerPath = path
	a.mu.Unlock()

	if err := a.cfg.Update(func(c *config.Config) { c.Player.Path = path }); err != nil {
		a.mu.Lock()
		a.playerPath = prev
		a.mu.Unlock()
		return gerrors.Config("set_player_path", err)
	}

	a.publishSettingsChanged("player", map[string]interface{}{"path": path})
	return nil
}

// PlayerPath returns the path future playbacks will use
func (a *App) PlayerPath() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playerPath
}

// SetShowOffline saves the offline visibility setting and returns the
// re-rendered rows
func (a *App) SetShowOffline(show bool) (stream.Set, error) {
	a.settingsMu.Lock()
	defer a.settingsMu.Unlock()

	if err := a.cfg.Update(func(c *config.Config) { c.Display.ShowOffline = show }); err != nil {
		return nil, gerrors.Config("set_show_offline", err)
	}
	a.applyShowOffline(show)
	a.publishSettingsChanged("display", map[string]interface{}{"show_offline": show})
	return a.tracker.Visible(), nil
}

func (a *App) applyShowOffline(show bool) {
	if a.tracker.ShowOffline() == show {
		return
	}
	visible := a.tracker.SetShowOffline(show)
	a.publish(events.Event{
		Type:   events.EventStreamsUpdated,
		Source: sourceTracker,
		Data: map[string]interface{}{
			"streams": visible,
			"all":     a.tracker.All(),
		},
	})
}

// onConfigChange applies changes that arrive through the config manager,
// including file edits picked up by the watcher. It runs inside Update, so
// it must not take settingsMu.
func (a *App) onConfigChange(oldConfig, newConfig *config.Config) {
	next := hostAddr{address: newConfig.Host.Address, port: uint16(newConfig.Host.Port)}

	a.mu.Lock()
	hostChanged := a.host != next
	a.host = next
	a.playerPath = newConfig.Player.Path
	a.mu.Unlock()

	if oldConfig.Host.AutoReconnect != newConfig.Host.AutoReconnect {
		a.client.SetAutoReconnect(newConfig.Host.AutoReconnect)
	}

	if hostChanged && a.cancel != nil {
		if next.valid() {
			a.logger.Info("host changed in configuration", "address", next.address, "port", next.port)
			a.client.Connect(next.address, next.port)
		} else {
			a.logger.Info("host removed from configuration, disconnecting")
			a.client.Disconnect()
		}
	}

	a.applyShowOffline(newConfig.Display.ShowOffline)
}

func (a *App) publishSettingsChanged(section string, data map[string]interface{}) {
	data["section"] = section
	a.publish(events.Event{
		Type:    events.EventSettingsChanged,
		Source:  sourceSettings,
		Message: section + " settings updated",
		Data:    data,
	})
}
