package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Standalone read-only inspector for a Cedar chat database. Useful for
// poking at chats.db without going through the main binary.
func main() {
	dbPath := filepath.Join(os.Getenv("HOME"), "CedarData", "chats.db")
	if len(os.Args) >= 2 {
		dbPath = os.Args[1]
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		fmt.Printf("Error opening DB: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	var chatCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM chats").Scan(&chatCount); err != nil {
		fmt.Printf("Error counting chats (is %s a chat database?): %v\n", dbPath, err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d chats\n", dbPath, chatCount)

	rows, err := db.Query(`
		SELECT project_id, branch_id, chat_number, status, updated_at, record
		FROM chats ORDER BY updated_at DESC LIMIT 20`)
	if err != nil {
		fmt.Printf("Error querying chats: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()

	fmt.Println("─────────────────────────────────────────────────────────────")
	for rows.Next() {
		var project, branch, number int64
		var status, updatedAt, record string
		if err := rows.Scan(&project, &branch, &number, &status, &updatedAt, &record); err != nil {
			fmt.Printf("Scan error: %v\n", err)
			continue
		}

		var decoded struct {
			Title    string `json:"title"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		title := "(unreadable record)"
		msgs := 0
		if err := json.Unmarshal([]byte(record), &decoded); err == nil {
			title = decoded.Title
			msgs = len(decoded.Messages)
		}

		fmt.Printf("p%d/b%d/#%-4d %-10s %2d msgs  %s  %s\n",
			project, branch, number, status, msgs, updatedAt, title)
	}
	if err := rows.Err(); err != nil {
		fmt.Printf("Error iterating chats: %v\n", err)
	}

	counterRows, err := db.Query("SELECT project_id, branch_id, next_number FROM chat_counters ORDER BY project_id, branch_id")
	if err != nil {
		return
	}
	defer counterRows.Close()

	fmt.Println("\nCounters:")
	for counterRows.Next() {
		var project, branch, next int64
		if err := counterRows.Scan(&project, &branch, &next); err != nil {
			continue
		}
		fmt.Printf("  p%d/b%d -> next chat %d\n", project, branch, next)
	}
}
