package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medflow/booking-engine/internal/db"
)

// simulate hammers one available slot with concurrent booking requests and
// checks the at-most-one-winner guarantee end to end through the HTTP API.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	baseURL := getEnv("API_BASE_URL", "http://127.0.0.1:8080")
	workers := getInt("SIM_WORKERS", 25)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	patients, err := pickPatients(ctx, pool, workers)
	if err != nil {
		log.Fatalf("pick patients: %v", err)
	}
	slotID, err := pickAvailableSlot(ctx, pool)
	if err != nil {
		log.Fatalf("pick slot: %v", err)
	}

	log.Printf("firing %d concurrent booking requests at slot %s", workers, slotID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
		failures  int
	)

	client := &http.Client{Timeout: 10 * time.Second}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()

			status, err := postBooking(client, baseURL, patientID, slotID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failures++
			case status == http.StatusCreated:
				created++
			case status == http.StatusConflict:
				conflicts++
			default:
				failures++
			}
		}(patients[i%len(patients)])
	}
	wg.Wait()

	log.Printf("created=%d conflicts=%d failures=%d", created, conflicts, failures)

	slotStatus, active, err := slotOutcome(ctx, pool, slotID)
	if err != nil {
		log.Fatalf("check outcome: %v", err)
	}
	log.Printf("slot status=%s active_bookings=%d", slotStatus, active)

	if created != 1 || slotStatus != "booked" || active != 1 {
		log.Fatal("MUTUAL EXCLUSION VIOLATED: expected exactly one winner")
	}
	log.Println("simulation passed: exactly one winner")
}

func postBooking(client *http.Client, baseURL string, patientID, slotID uuid.UUID) (int, error) {
	reason := gofakeit.Sentence(4)
	body, _ := json.Marshal(map[string]string{
		"patient_id": patientID.String(),
		"slot_id":    slotID.String(),
		"reason":     reason,
	})

	resp, err := client.Post(baseURL+"/bookings", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func pickPatients(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no patients seeded")
	}
	return ids, rows.Err()
}

func pickAvailableSlot(ctx context.Context, pool *pgxpool.Pool) (uuid.UUID, error) {
	var id uuid.UUID
	err := pool.QueryRow(ctx, `
		SELECT id FROM slots
		WHERE status = 'available'
		ORDER BY start_time
		LIMIT 1
	`).Scan(&id)
	return id, err
}

func slotOutcome(ctx context.Context, pool *pgxpool.Pool, slotID uuid.UUID) (string, int, error) {
	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM slots WHERE id = $1`, slotID).Scan(&status); err != nil {
		return "", 0, err
	}

	var active int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM bookings
		WHERE slot_id = $1 AND status IN ('pending', 'confirmed')
	`, slotID).Scan(&active)
	return status, active, err
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
