// 認証ゲートウェイのエントリポイント。
// 履歴書アプリケーションの前段ですべてのリクエストを受け、
// 保護ルートではトークンを検証し、必要に応じてリフレッシュしてから上流へ転送する。
package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/resumegate/internal/config"
	"github.com/nao1215/resumegate/internal/gateway"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	server, err := gateway.NewServer(cfg)
	if err != nil {
		log.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
	}

	log.Printf("Gatewayサービスを起動します: %s (upstream=%s)", cfg.Addr(), cfg.UpstreamURL)
	err = server.Run()
	_ = server.Close()
	if err != nil {
		log.Fatalf("Gatewayサービスの起動に失敗: %v", err)
	}
}
