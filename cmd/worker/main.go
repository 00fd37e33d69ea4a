package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"qrattendance/internal/attendance"
	"qrattendance/internal/config"
	"qrattendance/internal/mailer"
	"qrattendance/internal/queue"
	"qrattendance/internal/store"
)

// Worker consumes mark events and emails students a confirmation. Delivery
// problems are logged and never fed back into the marking path.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "attendance:marks")
	}

	repo := attendance.NewRepository(db.Client)
	mail := mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
	if mail.Skip {
		log.Println("SMTP not configured, confirmations will be logged only")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != "mark" {
			continue
		}

		entry, student, err := repo.GetEntryWithStudent(ctx, msg.EntryID)
		if err != nil {
			log.Printf("fetch entry %s failed: %v", msg.EntryID, err)
			continue
		}
		if student.Email == "" {
			continue
		}

		subject := fmt.Sprintf("Attendance Confirmed: %s", entry.Date)
		text := fmt.Sprintf("Dear %s,\n\nYour attendance for %s was recorded.\n\nRegards,\nAttendance System",
			student.Username, entry.Date)
		if _, err := mail.Send(ctx, student.Email, subject, text, ""); err != nil {
			log.Printf("confirmation to %s failed: %v", student.Email, err)
			continue
		}
		log.Printf("confirmation sent to %s for %s", student.Username, entry.Date)
	}

	log.Println("worker stopped")
}
