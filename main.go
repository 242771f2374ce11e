package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-chat/client/bridge"
	"go-chat/client/config"
	"go-chat/client/directory"
	"go-chat/client/gateway"
	"go-chat/client/identity"
	"go-chat/client/messagelog"
	"go-chat/client/middleware"
	"go-chat/client/models"
	"go-chat/client/presence"
	"go-chat/client/store"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

func main() {
	cfg := config.LoadConfig()

	st, err := store.NewMongoStore(context.Background(), cfg.MongoDBURI, cfg.DBName)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer st.Close(context.Background())

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	// 核心元件:橋接器 → 身分 → 目錄/訊息
	br := bridge.New(st)
	defer br.Close()

	sess := identity.NewSession(br)
	local := identity.NewLocalProvider(st, cfg.JWTSecret)
	local.OnIdentityChange(sess.Set)
	google := identity.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	google.OnIdentityChange(sess.Set)

	dir := directory.New(st, br, sess)
	mlog := messagelog.New(st, br)
	pres := presence.NewTracker(rdb)

	// 身分轉換驅動訂閱:登入後開聊天室清單的訂閱,登出時橋接器已被 Session 拆光
	sess.OnChange(func(ident *models.Identity) {
		if ident == nil {
			return
		}
		if err := dir.Start(context.Background()); err != nil {
			log.Printf("Failed to start room directory subscription: %v", err)
		}
	})

	hub := gateway.NewHub()
	go hub.Run()
	gw := gateway.New(hub, sess, dir, mlog, pres, local, google, cfg.JWTSecret)

	router := mux.NewRouter()

	// 健康檢查路由
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "Backend is running!")
	}).Methods("GET")

	router.HandleFunc("/register", gw.HandleRegister).Methods("POST")
	router.HandleFunc("/login", gw.HandleLogin).Methods("POST")
	router.HandleFunc("/auth/google", gw.HandleGoogleLogin).Methods("GET")
	router.HandleFunc("/auth/google/callback", gw.HandleGoogleCallback).Methods("GET")

	// WebSocket 狀態推送通道,需帶 JWT
	auth := middleware.JWTMiddleware(cfg.JWTSecret)
	router.Handle("/ws", auth(http.HandlerFunc(gw.HandleConnections)))

	// 設置 CORS 中介軟體
	// 實際生產環境中,應該將 AllowedOrigins 限制為你的前端網域
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(router)

	serverAddr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", serverAddr, err)
		}
	}()

	// 當按下 Ctrl+C,程式會收到 SIGINT
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %s, shutting down server...", sig)

	// 先拆訂閱再關伺服器,避免關閉途中還在套用快照
	br.TearDownAll()

	// 最多等30秒關閉,避免請求中斷
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited gracefully.")
}
