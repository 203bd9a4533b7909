package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medihub/booking-sync/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, 40)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedTemplates(context.Background(), pool, doctorIDs); err != nil {
		log.Fatalf("seed templates: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"General Practice",
		"Internal Medicine",
		"Pediatrics",
		"Obstetrics",
		"Cardiology",
		"Dermatology",
		"Neurology",
		"Ophthalmology",
		"ENT",
		"Dentistry",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		// every other doctor is known to the registry
		var registryCode *string
		if i%2 == 0 {
			code := fmt.Sprintf("DOC%04d", i+1)
			registryCode = &code
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, registry_code, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, spec, registryCode)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedTemplates(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	log.Printf("seeding templates for %d doctors", len(doctorIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, doctorID := range doctorIDs {
		// one morning and one afternoon window on two weekdays each
		for _, dow := range []int{gofakeit.Number(1, 3), gofakeit.Number(4, 6)} {
			for _, window := range [][2]string{{"08:00", "12:00"}, {"14:00", "17:00"}} {
				_, err := tx.Exec(ctx, `
					INSERT INTO schedule_templates (id, doctor_id, day_of_week, start_time, end_time,
						capacity, slot_minutes, active, created_at, updated_at)
					VALUES ($1, $2, $3, $4::time, $5::time, $6, $7, true, now(), now())
				`, uuid.New(), doctorID, dow, window[0], window[1],
					gofakeit.Number(2, 5), 30)
				if err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("templates seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			dob := gofakeit.DateRange(
				time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2010, 12, 31, 0, 0, 0, 0, time.UTC),
			)
			gender := []string{"male", "female"}[gofakeit.Number(0, 1)]

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, national_id, full_name, date_of_birth, gender, address,
					phone, email, category, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'new', now(), now())
			`, uuid.New(), nationalID(i), gofakeit.Name(), dob, gender,
				gofakeit.Address().Address, gofakeit.Phone(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

// nationalID builds a unique 16-digit identity number.
func nationalID(i int) string {
	return fmt.Sprintf("%06d%010d", gofakeit.Number(100000, 999999), i)
}
