package conflict

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/telemetry/policy"
)

func TestConflictValidatorScenarios(t *testing.T) {
	pol := policy.DefaultSignalPolicy()
	v := NewValidator(func() policy.SignalPolicy { return pol })
	now := time.Now()

	Convey("Given a junction with one direction GREEN", t, func() {
		signals := map[models.Direction]models.SignalState{
			models.North: {Color: models.Green, LastChange: now.Add(-1 * time.Second)},
			models.East:  {Color: models.Red, LastChange: now.Add(-5 * time.Second)},
		}

		Convey("When another direction requests GREEN", func() {
			ok, reason := v.Validate(models.East, models.Green, signals, now)

			Convey("Then it is rejected as a concurrent GREEN conflict", func() {
				So(ok, ShouldBeFalse)
				So(reason, ShouldContainSubstring, "already GREEN")
			})
		})

		Convey("When the GREEN direction tries to leave GREEN before min-green elapses", func() {
			ok, reason := v.Validate(models.North, models.Red, signals, now)

			Convey("Then it is rejected", func() {
				So(ok, ShouldBeFalse)
				So(reason, ShouldContainSubstring, "minimum GREEN time")
			})
		})

		Convey("When the GREEN direction leaves GREEN after min-green elapses", func() {
			signals[models.North] = models.SignalState{Color: models.Green, LastChange: now.Add(-11 * time.Second)}
			ok, _ := v.Validate(models.North, models.Red, signals, now)

			Convey("Then it is accepted", func() {
				So(ok, ShouldBeTrue)
			})
		})
	})

	Convey("Given a direction that just turned RED", t, func() {
		signals := map[models.Direction]models.SignalState{
			models.North: {Color: models.Red, LastChange: now.Add(-1 * time.Second)},
		}

		Convey("When it requests GREEN before min-red elapses", func() {
			ok, reason := v.Validate(models.North, models.Green, signals, now)

			Convey("Then it is rejected", func() {
				So(ok, ShouldBeFalse)
				So(reason, ShouldContainSubstring, "minimum RED time")
			})
		})

		Convey("When it requests GREEN after min-red elapses", func() {
			signals[models.North] = models.SignalState{Color: models.Red, LastChange: now.Add(-3 * time.Second)}
			ok, _ := v.Validate(models.North, models.Green, signals, now)

			Convey("Then it is accepted", func() {
				So(ok, ShouldBeTrue)
			})
		})
	})
}

func TestValidateFullJunctionDetectsDoubleGreen(t *testing.T) {
	signals := map[models.Direction]models.SignalState{
		models.North: {Color: models.Green},
		models.East:  {Color: models.Green},
		models.South: {Color: models.Red},
	}
	ok, issues := ValidateFullJunction(signals)
	if ok {
		t.Fatalf("expected double-green junction to be invalid")
	}
	if len(issues) != 2 {
		t.Fatalf("expected 2 flagged directions, got %d", len(issues))
	}
}
