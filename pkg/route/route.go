package route

import (
	"fmt"
	"path"
	"strings"
)

// Class はリクエストパスの分類を表す。
type Class int

const (
	// Protected は認証が必要なルート。どの許可リストにも一致しないパスはすべてこれになる。
	Protected Class = iota
	// Public は認証不要のアプリケーションページ（ログイン画面など）。
	Public
	// PublicAPI は認証不要のAPIエンドポイント（トークンリフレッシュなど）。
	PublicAPI
	// StaticAsset はビルド成果物や画像などの静的アセット。
	StaticAsset
)

// String はログ出力用の分類名を返す。
func (c Class) String() string {
	switch c {
	case Public:
		return "public"
	case PublicAPI:
		return "public-api"
	case StaticAsset:
		return "static-asset"
	default:
		return "protected"
	}
}

// Open は認証なしで通過させてよい分類かどうかを返す。
func (c Class) Open() bool {
	return c != Protected
}

// Rules は分類に使う許可リストの集合。
type Rules struct {
	// AssetPrefixes はビルド成果物のパスプレフィックス。
	AssetPrefixes []string
	// AssetExtensions は静的アセットとみなす拡張子（ドット付き）。
	AssetExtensions []string
	// PublicPages は認証不要のページパターン。
	PublicPages []string
	// PublicAPIs は認証不要のAPIパターン。
	PublicAPIs []string
}

// DefaultRules は履歴書アプリケーション用の既定の許可リストを返す。
func DefaultRules() Rules {
	return Rules{
		AssetPrefixes:   []string{"/_next/", "/assets/", "/static/"},
		AssetExtensions: []string{".svg", ".png", ".jpeg", ".jpg"},
		PublicPages: []string{
			"/",
			"/login",
			"/register",
			"/forgot-password",
			"/reset-password",
			"/verify-email/*",
		},
		PublicAPIs: []string{
			"/api/v1/auth/login",
			"/api/v1/auth/register",
			"/api/v1/auth/refresh-token",
			"/api/v1/auth/forgot-password",
			"/api/v1/auth/reset-password/*",
			"/api/v1/auth/verify-email/*",
		},
	}
}

// PatternError は許可リストの不正なエントリを表す。
// 起動時の設定検証で返され、リクエスト処理中には発生しない。
type PatternError struct {
	// List はエントリが属するリスト名。
	List string
	// Pattern は不正と判定されたエントリ。
	Pattern string
	// Reason は不正と判定された理由。
	Reason string
}

// Error はエラーメッセージを返す。
func (e *PatternError) Error() string {
	return fmt.Sprintf("許可リスト %s のエントリ %q が不正: %s", e.List, e.Pattern, e.Reason)
}

// wildcardSuffix はパターン末尾のワイルドカードセグメント。
const wildcardSuffix = "/*"

// pattern はコンパイル済みのパスパターン。
type pattern struct {
	// prefix はワイルドカードを除いたリテラル部分。
	prefix string
	// wildcard は末尾が "/*" のパターンかどうか。
	wildcard bool
}

// match はパス全体がパターンに一致するかを返す。
// ワイルドカードはそのセグメント以降（0セグメント以上）をすべて消費する。
func (p pattern) match(path string) bool {
	if !p.wildcard {
		return path == p.prefix
	}
	return path == p.prefix || strings.HasPrefix(path, p.prefix+"/")
}

// compilePattern は許可リストのエントリを検証してパターンに変換する。
func compilePattern(list, raw string) (pattern, error) {
	if err := checkEntry(list, raw); err != nil {
		return pattern{}, err
	}
	if !strings.HasPrefix(raw, "/") {
		return pattern{}, &PatternError{List: list, Pattern: raw, Reason: "\"/\" で始まる必要がある"}
	}

	prefix, wildcard := strings.CutSuffix(raw, wildcardSuffix)
	if strings.Contains(prefix, "*") {
		return pattern{}, &PatternError{List: list, Pattern: raw, Reason: "ワイルドカードは末尾の \"/*\" セグメントにのみ使用できる"}
	}
	if !wildcard {
		prefix = normalize(prefix)
	}
	return pattern{prefix: prefix, wildcard: wildcard}, nil
}

// checkEntry はすべてのリストに共通するエントリの検証を行う。
func checkEntry(list, raw string) error {
	switch {
	case raw == "":
		return &PatternError{List: list, Pattern: raw, Reason: "空のエントリ"}
	case strings.Contains(raw, ","):
		// "/a,/b" のように複数のパターンが1エントリに連結されたものは受け付けない
		return &PatternError{List: list, Pattern: raw, Reason: "カンマを含むエントリは複数パターンの連結とみなす"}
	case strings.ContainsAny(raw, " \t\n"):
		return &PatternError{List: list, Pattern: raw, Reason: "空白を含むエントリ"}
	}
	return nil
}

// Classifier はリクエストパスを分類する。
// 生成後は不変であり、複数のgoroutineから同時に利用できる。
type Classifier struct {
	assetPrefixes   []string
	assetExtensions []string
	pages           []pattern
	apis            []pattern
}

// NewClassifier は許可リストを検証してClassifierを生成する。
// 不正なエントリが1つでもあれば *PatternError を返す。
func NewClassifier(rules Rules) (*Classifier, error) {
	c := &Classifier{}

	for _, p := range rules.AssetPrefixes {
		if err := checkEntry("asset-prefixes", p); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(p, "/") {
			return nil, &PatternError{List: "asset-prefixes", Pattern: p, Reason: "\"/\" で始まる必要がある"}
		}
		c.assetPrefixes = append(c.assetPrefixes, p)
	}

	for _, ext := range rules.AssetExtensions {
		if err := checkEntry("asset-extensions", ext); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return nil, &PatternError{List: "asset-extensions", Pattern: ext, Reason: "\".\" で始まる拡張子である必要がある"}
		}
		c.assetExtensions = append(c.assetExtensions, strings.ToLower(ext))
	}

	var err error
	if c.pages, err = compileList("public-pages", rules.PublicPages); err != nil {
		return nil, err
	}
	if c.apis, err = compileList("public-apis", rules.PublicAPIs); err != nil {
		return nil, err
	}
	return c, nil
}

// compileList はパターンのリストをまとめてコンパイルする。
func compileList(list string, raws []string) ([]pattern, error) {
	patterns := make([]pattern, 0, len(raws))
	for _, raw := range raws {
		p, err := compilePattern(list, raw)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// Classify はパスを分類する。I/Oを伴わない全域関数で、同じパスには常に同じ分類を返す。
// ドットセグメントは解決してから照合する。
func (c *Classifier) Classify(path string) Class {
	if ambiguous(path) {
		return Protected
	}
	path = normalize(CleanPath(path))

	if c.isAsset(path) {
		return StaticAsset
	}
	for _, p := range c.pages {
		if p.match(path) {
			return Public
		}
	}
	for _, p := range c.apis {
		if p.match(path) {
			return PublicAPI
		}
	}
	return Protected
}

// isAsset は静的アセットのパスかどうかを返す。
func (c *Classifier) isAsset(path string) bool {
	for _, prefix := range c.assetPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	lower := strings.ToLower(path)
	for _, ext := range c.assetExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// normalize は空パスをルートに揃え、末尾のスラッシュを1つだけ取り除く。
func normalize(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// CleanPath はドットセグメントと連続したスラッシュを解決したパスを返す。
// 末尾のスラッシュは1つだけ残す。上流へ転送するパスにも同じ結果を使う。
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if cleaned != "/" && strings.HasSuffix(p, "/") {
		cleaned += "/"
	}
	return cleaned
}

// ambiguous は復号済みのパスにドットやスラッシュのエスケープ、またはバックスラッシュが残っているかを返す。
// 上流が再度復号するとセグメントの区切りが変わるため、このようなパスは許可リストと照合しない。
func ambiguous(p string) bool {
	if strings.ContainsRune(p, '\\') {
		return true
	}
	if !strings.Contains(p, "%") {
		return false
	}
	lower := strings.ToLower(p)
	for _, esc := range []string{"%2e", "%2f", "%5c"} {
		if strings.Contains(lower, esc) {
			return true
		}
	}
	return false
}
