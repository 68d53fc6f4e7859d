package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

func main() {
	patients := flag.Int("patients", 200, "number of patients to insert")
	days := flag.Int("days", 7, "number of upcoming days to book into")
	perDay := flag.Int("per-day", 6, "booking attempts per day")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("service", "seed")
	logger.Info("seed starting", "patients", *patients, "days", *days, "per_day", *perDay)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	phones, err := seedPatients(context.Background(), pool, faker, *patients, logger)
	if err != nil {
		logger.Error("seed patients", "error", err)
		os.Exit(1)
	}

	svc := appointment.NewService(
		appointment.NewPgRepository(pool),
		schedule.NewRules(schedule.SystemClock{}, cfg.BookingLeadTime),
		nil,
		logger,
	)
	if err := seedBookings(context.Background(), svc, faker, phones, *days, *perDay, logger); err != nil {
		logger.Error("seed bookings", "error", err)
		os.Exit(1)
	}

	logger.Info("seed complete")
}

// seedPatients inserts patients in one transaction and returns their phones.
func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger *logging.Logger) ([]string, error) {
	logger.Info("seeding patients", "count", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	phones := make([]string, 0, count)
	for i := 0; i < count; i++ {
		phone := fmt.Sprintf("9%09d", faker.Number(0, 999_999_999))
		email := faker.Email()

		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, full_name, phone, email, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
			ON CONFLICT (phone) DO NOTHING
		`, uuid.New(), faker.Name(), phone, email)
		if err != nil {
			return nil, err
		}
		phones = append(phones, phone)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return phones, nil
}

// seedBookings goes through the service so every seeded appointment obeys the
// same rules as a real booking. Rejections are counted, not fatal.
func seedBookings(ctx context.Context, svc *appointment.Service, faker *gofakeit.Faker, phones []string, days, perDay int, logger *logging.Logger) error {
	if len(phones) == 0 {
		return nil
	}

	services := []appointment.ServiceType{
		appointment.ServicePhysiotherapy,
		appointment.ServiceCancerRehab,
		appointment.ServiceHomeVisit,
	}
	slots := schedule.AllSlots()
	today := svc.Today()
	outcomes := make(map[schedule.Reason]int)

	for d := 1; d <= days; d++ {
		date, err := schedule.AddDays(today, d)
		if err != nil {
			return err
		}
		for i := 0; i < perDay; i++ {
			service := services[faker.Number(0, len(services)-1)]
			visit := appointment.VisitClinic
			if service == appointment.ServiceHomeVisit {
				visit = appointment.VisitHome
			}

			_, err := svc.CreateAppointment(ctx, appointment.BookingRequest{
				Date:        date,
				Time:        slots[faker.Number(0, len(slots)-1)],
				ServiceType: service,
				VisitType:   visit,
				PatientDetails: appointment.PatientDetails{
					Name:  faker.Name(),
					Phone: phones[faker.Number(0, len(phones)-1)],
				},
			}, appointment.CreatedByPatient)

			reason := appointment.Outcome(err)
			if reason == schedule.ReasonServerError {
				return err
			}
			outcomes[reason]++
		}
	}

	for reason, n := range outcomes {
		if reason == "" {
			reason = "SUCCESS"
		}
		logger.Info("seed bookings", "outcome", reason, "count", n)
	}
	return nil
}
