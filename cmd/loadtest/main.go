package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// result 单次请求的结果。
type result struct {
	status  int
	orderID string
	err     error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type client struct {
	http  *http.Client
	base  string
	token string
}

func main() {
	base := flag.String("base", "http://localhost:8080", "server base url")
	voucherID := flag.Int64("voucher", 1, "voucher id")
	preload := flag.Bool("preload", true, "sync db stock to redis before the run")
	token := flag.String("admin-token", "dev-admin-token", "admin token for preload endpoint")
	users := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	repeat := flag.Int("repeat", 50, "requests from one user in the duplicate/rate limit run")
	wait := flag.Duration("wait", 10*time.Second, "how long to poll for orders to be persisted")
	flag.Parse()

	c := &client{http: &http.Client{Timeout: 5 * time.Second}, base: *base, token: *token}
	ctx := context.Background()

	if *preload {
		var out struct {
			Stock int64 `json:"stock"`
		}
		if err := c.post(ctx, fmt.Sprintf("/api/seckill/preload/%d", *voucherID), nil, &out); err != nil {
			fmt.Fprintln(os.Stderr, "preload failed:", err)
			os.Exit(1)
		}
		fmt.Println("preload ok, stock =", out.Stock)
	}

	// 1) 不超卖：不同用户并发抢
	fmt.Printf("start oversell run: voucher=%d users=%d concurrency=%d\n", *voucherID, *users, *concurrency)
	results := c.run(ctx, *users, *concurrency, func(i int) (int64, int64) { return *voucherID, int64(i + 1) })
	summary("oversell", results)

	if stock, err := c.stock(ctx, *voucherID); err != nil {
		fmt.Println("stock check err:", err)
	} else {
		fmt.Println("final redis stock:", stock)
	}

	// 2) 订单异步落库：轮询直到所有 order_id 变为 created
	c.awaitOrders(ctx, results, *wait)

	// 3) 一人一单 + 限流：同一用户重复抢
	fmt.Printf("\nstart same-user run: user=10001 requests=%d\n", *repeat)
	same := c.run(ctx, *repeat, *repeat, func(int) (int64, int64) { return *voucherID, 10001 })
	summary("same_user", same)
}

func (c *client) run(ctx context.Context, n, concurrency int, req func(i int) (voucherID, userID int64)) []result {
	results := make([]result, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			vid, uid := req(i)
			results[i] = c.buy(ctx, vid, uid)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *client) buy(ctx context.Context, voucherID, userID int64) result {
	body := map[string]int64{"voucher_id": voucherID, "user_id": userID}
	status, env, err := c.do(ctx, http.MethodPost, "/api/seckill/buy", body, nil)
	if err != nil {
		return result{err: err}
	}
	r := result{status: status}
	if status == http.StatusOK {
		var data struct {
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal(env.Data, &data); err == nil {
			r.orderID = data.OrderID
		}
	}
	return r
}

func (c *client) stock(ctx context.Context, voucherID int64) (int64, error) {
	status, env, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/seckill/stock/%d", voucherID), nil, nil)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("status=%d msg=%s", status, env.Msg)
	}
	var out struct {
		Stock int64 `json:"stock"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return 0, err
	}
	return out.Stock, nil
}

func (c *client) awaitOrders(ctx context.Context, results []result, wait time.Duration) {
	pending := map[string]struct{}{}
	for _, r := range results {
		if r.orderID != "" {
			pending[r.orderID] = struct{}{}
		}
	}
	total := len(pending)
	deadline := time.Now().Add(wait)
	for len(pending) > 0 && time.Now().Before(deadline) {
		for id := range pending {
			_, env, err := c.do(ctx, http.MethodGet, "/api/orders/"+id, nil, nil)
			if err != nil {
				continue
			}
			var data struct {
				Status string `json:"status"`
			}
			if json.Unmarshal(env.Data, &data) == nil && data.Status == "created" {
				delete(pending, id)
			}
		}
		if len(pending) > 0 {
			time.Sleep(200 * time.Millisecond)
		}
	}
	fmt.Printf("orders persisted: %d/%d\n", total-len(pending), total)
}

func (c *client) post(ctx context.Context, path string, body, out any) error {
	status, env, err := c.do(ctx, http.MethodPost, path, body, map[string]string{"X-Admin-Token": c.token})
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("status=%d msg=%s", status, env.Msg)
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (c *client) do(ctx context.Context, method, path string, body any, headers map[string]string) (int, envelope, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, envelope{}, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return 0, envelope{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, envelope{}, err
	}
	defer resp.Body.Close()

	var env envelope
	b, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(b, &env)
	return resp.StatusCode, env, nil
}

// summary 按状态码聚合输出。
func summary(name string, results []result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.err != nil {
			errCount++
			continue
		}
		count[r.status]++
	}
	codes := make([]int, 0, len(count))
	for code := range count {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, count[code])
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}
