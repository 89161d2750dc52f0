package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/hustlexp/moneycore/pkg/mlog"
	"github.com/hustlexp/moneycore/pkg/mredis"
)

const velocityKeyPrefix = "moneycore:tpee:velocity:"

// Velocity implements internal/tpee.VelocityCounter against redis INCR
// counters with hourly and daily windows, so caps hold across process
// instances (spec.md §4.6 step 6).
type Velocity struct {
	Conn      *mredis.Connection
	Logger    mlog.Logger
	HourlyCap int64
	DailyCap  int64
}

func (v *Velocity) Increment(posterID string) bool {
	ctx := context.Background()

	client, err := v.Conn.GetClient(ctx)
	if err != nil {
		if v.Logger != nil {
			v.Logger.Error("velocity: redis client unavailable, failing closed", "error", err)
		}

		return true
	}

	hourKey := fmt.Sprintf("%s%s:h:%s", velocityKeyPrefix, posterID, time.Now().UTC().Format("2006010215"))
	dayKey := fmt.Sprintf("%s%s:d:%s", velocityKeyPrefix, posterID, time.Now().UTC().Format("20060102"))

	hourCount, err := client.Incr(ctx, hourKey).Result()
	if err != nil {
		if v.Logger != nil {
			v.Logger.Error("velocity: hourly incr failed, failing closed", "error", err)
		}

		return true
	}

	client.Expire(ctx, hourKey, time.Hour)

	dayCount, err := client.Incr(ctx, dayKey).Result()
	if err != nil {
		if v.Logger != nil {
			v.Logger.Error("velocity: daily incr failed, failing closed", "error", err)
		}

		return true
	}

	client.Expire(ctx, dayKey, 24*time.Hour)

	return hourCount > v.HourlyCap || dayCount > v.DailyCap
}
