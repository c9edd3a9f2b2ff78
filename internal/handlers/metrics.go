package handlers

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/testsentry/internal/models"
	"github.com/huangang/testsentry/internal/services"
)

var startTime = time.Now()

// Metrics returns Prometheus-compatible text format metrics.
func Metrics(c *gin.Context) {
	var b strings.Builder

	// -- Runtime metrics --
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(&b, "testsentry_uptime_seconds", "Time since server start in seconds", float64(time.Since(startTime).Seconds()))
	writeGauge(&b, "testsentry_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "testsentry_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))
	writeGauge(&b, "testsentry_memory_sys_bytes", "Total memory obtained from OS in bytes", float64(m.Sys))
	writeGauge(&b, "testsentry_gc_runs_total", "Total number of GC runs", float64(m.NumGC))

	// -- Database metrics --
	db := models.GetDB()
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			stats := sqlDB.Stats()
			writeGauge(&b, "testsentry_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
			writeGauge(&b, "testsentry_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
			writeGauge(&b, "testsentry_db_idle_connections", "Number of idle DB connections", float64(stats.Idle))
		}
	}

	// -- Queue metrics --
	taskQueue := services.GetTaskQueue()
	queueAsync := 0.0
	if taskQueue != nil && taskQueue.IsAsync() {
		queueAsync = 1.0
	}
	writeGauge(&b, "testsentry_queue_async_enabled", "Whether async queue (Redis) is enabled (1=yes, 0=no)", queueAsync)

	// -- Invitation metrics --
	if db != nil {
		now := time.Now()
		var totalInvites, pendingInvites, acceptedInvites, declinedInvites, expiredInvites int64
		db.Model(&models.Invitation{}).Count(&totalInvites)
		db.Model(&models.Invitation{}).
			Where("status = ? AND expires_at > ?", models.InvitationPending, now).Count(&pendingInvites)
		db.Model(&models.Invitation{}).Where("status = ?", models.InvitationAccepted).Count(&acceptedInvites)
		db.Model(&models.Invitation{}).Where("status = ?", models.InvitationDeclined).Count(&declinedInvites)
		db.Model(&models.Invitation{}).
			Where("status = ? OR (status = ? AND expires_at <= ?)",
				models.InvitationExpired, models.InvitationPending, now).Count(&expiredInvites)

		writeGauge(&b, "testsentry_invitations_total", "Total number of invitations", float64(totalInvites))
		writeGauge(&b, "testsentry_invitations_pending", "Number of live pending invitations", float64(pendingInvites))
		writeGauge(&b, "testsentry_invitations_accepted", "Number of accepted invitations", float64(acceptedInvites))
		writeGauge(&b, "testsentry_invitations_declined", "Number of declined invitations", float64(declinedInvites))
		writeGauge(&b, "testsentry_invitations_expired", "Number of expired invitations", float64(expiredInvites))

		// Projects, members & users
		var projectCount, membershipCount, userCount int64
		db.Model(&models.Project{}).Where("deleted_at IS NULL").Count(&projectCount)
		db.Model(&models.Membership{}).Count(&membershipCount)
		db.Model(&models.User{}).Where("deleted_at IS NULL AND is_active = ?", true).Count(&userCount)

		writeGauge(&b, "testsentry_projects_total", "Total number of active projects", float64(projectCount))
		writeGauge(&b, "testsentry_memberships_total", "Total number of project memberships", float64(membershipCount))
		writeGauge(&b, "testsentry_users_active", "Number of active users", float64(userCount))
	}

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}
