package cli

import (
	"fmt"

	"github.com/nudgehq/nudge/internal/config"
	"github.com/nudgehq/nudge/internal/database"
	"github.com/nudgehq/nudge/internal/dispatch"
	"github.com/nudgehq/nudge/internal/executions"
	"github.com/nudgehq/nudge/internal/inbox"
	"github.com/nudgehq/nudge/internal/notify"
	"github.com/nudgehq/nudge/internal/reminders"
	"github.com/nudgehq/nudge/internal/schedule"
	"github.com/nudgehq/nudge/internal/triggers"
)

// app holds the components shared by the commands that touch reminders.
type app struct {
	db          *database.DB
	planner     *schedule.Planner
	reminders   *reminders.Service
	triggers    *triggers.Store
	ledger      *executions.Store
	inbox       *inbox.Store
	coordinator *dispatch.Coordinator
}

func openApp(cfg *config.Config) (*app, error) {
	planner, err := schedule.NewPlannerForZone(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading scheduler timezone: %w", err)
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &app{
		db:        db,
		planner:   planner,
		reminders: reminders.NewService(db),
		triggers:  triggers.NewStore(db, planner),
		ledger:    executions.NewStore(db),
		inbox:     inbox.NewStore(db),
	}

	router := notify.NewRouter(notify.NewClient(&cfg.Notify), a.inbox)
	a.coordinator = dispatch.New(a.db, a.reminders, a.triggers, executions.NewRecorder(a.ledger), router)

	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
