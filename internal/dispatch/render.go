package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/vigil-core/internal/device"
	"github.com/nerrad567/vigil-core/internal/schedule"
)

// renderStatus formats one device's cached state as a status line.
func renderStatus(dev *device.Device) string {
	var b strings.Builder

	icon := "🟢"
	if !dev.Online {
		icon = "🔴"
	}
	fmt.Fprintf(&b, "%s %s — ", icon, dev.Name)

	if dev.AlarmActive {
		b.WriteString("🚨 ALARM")
	} else if dev.Armed {
		b.WriteString("armed")
	} else {
		b.WriteString("disarmed")
	}

	fmt.Fprintf(&b, ", bengala %s", dev.BengalaMode)
	if dev.Online {
		fmt.Fprintf(&b, ", signal %d dBm", dev.RSSI)
	}
	if dev.LastSeen != nil {
		fmt.Fprintf(&b, ", seen %s", humanAgo(time.Since(*dev.LastSeen)))
	}
	return b.String()
}

// renderSchedule formats a device's arm schedule for chat.
func renderSchedule(name string, s *schedule.Schedule) string {
	if !s.Enabled {
		return fmt.Sprintf("Schedule on %s is off.", name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Schedule on %s:", name)
	if s.ArmTime != "" {
		fmt.Fprintf(&b, " arm %s", s.ArmTime)
	}
	if s.DisarmTime != "" {
		fmt.Fprintf(&b, ", disarm %s", s.DisarmTime)
	}
	if s.DaysMask != schedule.AllDays {
		fmt.Fprintf(&b, " (%s)", renderDays(s.DaysMask))
	}
	if s.NotifyBeforeMinutes > 0 {
		fmt.Fprintf(&b, ", warning %d min before", s.NotifyBeforeMinutes)
	}
	return b.String()
}

// renderDays expands a days mask into short day names, bit 0 = Sunday.
func renderDays(mask int) string {
	names := [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
	var out []string
	for i := 0; i < 7; i++ {
		if mask&(1<<i) != 0 {
			out = append(out, names[i])
		}
	}
	return strings.Join(out, " ")
}

// humanAgo renders a duration like "4m ago" without sub-second noise.
func humanAgo(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
