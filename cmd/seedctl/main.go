package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"qrattendance/internal/attendance"
	"qrattendance/internal/config"
	"qrattendance/internal/store"
)

// seedctl replaces the ad-hoc maintenance scripts: seeding admin accounts,
// backfilling student emails and listing the roster.
func main() {
	seedAdmins := flag.Bool("seed-admins", false, "upsert admin accounts teacher1..teacherN")
	adminCount := flag.Int("admin-count", 10, "number of admin accounts to seed")
	adminPassword := flag.String("admin-password", "password123", "password for seeded admins")
	backfill := flag.Bool("backfill-emails", false, "set <username>@gmail.com for students without an email")
	list := flag.Bool("list", false, "print usernames and emails")
	addStudent := flag.String("add-student", "", "upsert a student account, format username:password")
	deactivate := flag.String("deactivate-day", "", "retire an attendance day code without deleting history")
	flag.Parse()

	if !*seedAdmins && !*backfill && !*list && *addStudent == "" && *deactivate == "" {
		flag.Usage()
		return
	}

	cfg := config.Load()
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}
	repo := attendance.NewRepository(db.Client)

	if *seedAdmins {
		hash, err := bcrypt.GenerateFromPassword([]byte(*adminPassword), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("hash password: %v", err)
		}
		for i := 1; i <= *adminCount; i++ {
			username := fmt.Sprintf("teacher%d", i)
			if err := repo.UpsertUser(ctx, username, string(hash), "admin"); err != nil {
				log.Printf("upsert %s failed: %v", username, err)
				continue
			}
			log.Printf("upserted %s", username)
		}
		log.Println("seeding complete")
	}

	if *addStudent != "" {
		username, password, ok := strings.Cut(*addStudent, ":")
		if !ok || username == "" || password == "" {
			log.Fatal("-add-student expects username:password")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("hash password: %v", err)
		}
		if err := repo.UpsertUser(ctx, username, string(hash), "student"); err != nil {
			log.Fatalf("upsert %s failed: %v", username, err)
		}
		log.Printf("upserted %s", username)
	}

	if *backfill {
		students, err := repo.ListStudents(ctx)
		if err != nil {
			log.Fatalf("list students failed: %v", err)
		}
		for _, s := range students {
			if s.Email != "" {
				continue
			}
			email := s.Username + "@gmail.com"
			if err := repo.UpdateEmail(ctx, s.ID, email); err != nil {
				log.Printf("update %s failed: %v", s.Username, err)
				continue
			}
			log.Printf("updated %s -> %s", s.Username, email)
		}
		log.Println("all students updated")
	}

	if *deactivate != "" {
		if err := repo.DeactivateDay(ctx, *deactivate); err != nil {
			log.Fatalf("deactivate %s failed: %v", *deactivate, err)
		}
		log.Printf("deactivated %s", *deactivate)
	}

	if *list {
		students, err := repo.ListStudents(ctx)
		if err != nil {
			log.Fatalf("list students failed: %v", err)
		}
		fmt.Println("Students:")
		for _, s := range students {
			email := s.Email
			if email == "" {
				email = "(no email)"
			}
			fmt.Printf("- %s -> %s\n", s.Username, email)
		}
	}
}
