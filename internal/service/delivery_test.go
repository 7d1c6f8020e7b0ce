package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dexmail/backend/internal/bridge"
	"dexmail/backend/internal/claim"
	"dexmail/backend/internal/content"
	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/ledger"
	"dexmail/backend/internal/monitoring"
	"dexmail/backend/internal/storage/memory"
)

// fakeLedger 按字段注入行为的链上客户端替身
type fakeLedger struct {
	registration    ledger.Registration
	registrationErr error

	indexCalls  []indexCall
	cryptoCalls []ledger.CryptoSend
	transfers   []ledger.AssetTransfer
	approvals   []string

	indexErr    error
	cryptoErr   error
	transferErr error

	inbox      map[string][]uint64
	mails      map[uint64]*ledger.MailEntry
	sentEvents []ledger.SentEvent
	latest     uint64
}

type indexCall struct {
	cidHash    string
	recipient  string
	isExternal bool
	hasCrypto  bool
}

func (f *fakeLedger) IsRecipientRegistered(context.Context, string) (ledger.Registration, error) {
	return f.registration, f.registrationErr
}

func (f *fakeLedger) AddressToEmail(context.Context, string) (string, error) { return "", nil }

func (f *fakeLedger) GetMail(_ context.Context, id uint64) (*ledger.MailEntry, error) {
	if m, ok := f.mails[id]; ok {
		return m, nil
	}
	return nil, ledger.ErrMailNotFound
}

func (f *fakeLedger) GetInbox(_ context.Context, email string) ([]uint64, error) {
	return f.inbox[email], nil
}

func (f *fakeLedger) SentEvents(context.Context, string, uint64, uint64) ([]ledger.SentEvent, error) {
	return f.sentEvents, nil
}

func (f *fakeLedger) LatestBlock(context.Context) (uint64, error) { return f.latest, nil }

func (f *fakeLedger) IndexMail(_ context.Context, cidHash, recipient string, isExternal, hasCrypto bool) (string, error) {
	if f.indexErr != nil {
		return "", f.indexErr
	}
	f.indexCalls = append(f.indexCalls, indexCall{cidHash, recipient, isExternal, hasCrypto})
	return "0xtx-index", nil
}

func (f *fakeLedger) SendMailWithCrypto(_ context.Context, req ledger.CryptoSend) (string, error) {
	if f.cryptoErr != nil {
		return "", f.cryptoErr
	}
	f.cryptoCalls = append(f.cryptoCalls, req)
	return "0xtx-crypto", nil
}

func (f *fakeLedger) TransferAsset(_ context.Context, req ledger.AssetTransfer) (string, error) {
	if f.transferErr != nil {
		return "", f.transferErr
	}
	f.transfers = append(f.transfers, req)
	return "0xtx-transfer", nil
}

func (f *fakeLedger) ApproveERC20(_ context.Context, token, _ string) error {
	f.approvals = append(f.approvals, token)
	return nil
}

func (f *fakeLedger) Health(context.Context) error { return nil }

// fakeCIDMap 内存映射层，可注入写失败
type fakeCIDMap struct {
	mu       sync.Mutex
	saveErr  error
	mappings map[string]string
}

func newFakeCIDMap() *fakeCIDMap {
	return &fakeCIDMap{mappings: make(map[string]string)}
}

func (f *fakeCIDMap) Save(_ context.Context, cidHash, fullCID string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mappings[cidHash] = fullCID
	return nil
}

func (f *fakeCIDMap) Lookup(_ context.Context, cidHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cid, ok := f.mappings[cidHash]
	if !ok {
		return "", errors.New("not found")
	}
	return cid, nil
}

// fakeBridge 记录投递请求
type fakeBridge struct {
	mu       sync.Mutex
	messages []*bridge.OutboundMessage
	err      error
}

func (f *fakeBridge) Deliver(_ context.Context, msg *bridge.OutboundMessage) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

// newPinServer 返回固定 CID 的 pinning 服务替身。
func newPinServer(t *testing.T, cid string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"IpfsHash":"` + cid + `","PinSize":128}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type deliveryFixture struct {
	svc    *DeliveryService
	ledger *fakeLedger
	cidMap *fakeCIDMap
	bridge *fakeBridge
	store  *memory.Store
}

func newDeliveryFixture(t *testing.T, cid string) *deliveryFixture {
	t.Helper()
	log := zap.NewNop()
	pin := newPinServer(t, cid)

	fx := &deliveryFixture{
		ledger: &fakeLedger{},
		cidMap: newFakeCIDMap(),
		bridge: &fakeBridge{},
		store:  memory.NewStore(),
	}
	contentClient := content.NewClient(pin.URL, "", "https://ipfs.io/ipfs/", 5*time.Second, log)
	claims := claim.NewService(fx.store, "https://dexmail.app", log)

	fx.svc = NewDeliveryService(
		fx.ledger, contentClient, fx.cidMap, claims, fx.bridge, fx.store, "dexmail.app", nil, log)
	return fx
}

func TestDeliverySend(t *testing.T) {
	ctx := context.Background()

	t.Run("无收件人拒绝", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmPlain")
		_, err := fx.svc.Send(ctx, &SendInput{From: "a@dexmail.app"})
		assert.ErrorIs(t, err, ErrNoRecipient)
	})

	t.Run("平台内普通邮件走纯索引路径", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmPlain")

		receipt, err := fx.svc.Send(ctx, &SendInput{
			From:    "alice@dexmail.app",
			To:      []string{"Bob@DexMail.app"},
			Subject: "hi",
			Body:    "hello",
		})
		require.NoError(t, err)

		require.Len(t, fx.ledger.indexCalls, 1)
		call := fx.ledger.indexCalls[0]
		assert.Equal(t, "bob@dexmail.app", call.recipient)
		assert.False(t, call.isExternal)
		assert.False(t, call.hasCrypto)

		assert.Equal(t, "0xtx-index", receipt.TxRef)
		assert.Equal(t, "QmPlain", receipt.CID)
		assert.Len(t, receipt.CIDHash, 66)
		assert.Empty(t, receipt.ClaimCode)

		// 映射已登记
		cid, err := fx.cidMap.Lookup(ctx, receipt.CIDHash)
		require.NoError(t, err)
		assert.Equal(t, "QmPlain", cid)

		// 内部收件人不触发桥接
		assert.Empty(t, fx.bridge.messages)
	})

	t.Run("已注册已部署收件人走直转", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmDirect")
		fx.ledger.registration = ledger.Registration{Registered: true, WalletDeployed: true}

		receipt, err := fx.svc.Send(ctx, &SendInput{
			From: "alice@dexmail.app",
			To:   []string{"bob@dexmail.app"},
			Body: "with eth",
			Crypto: &domain.CryptoTransfer{
				Enabled: true,
				Assets:  []domain.CryptoAsset{{Type: domain.AssetETH, Amount: "1.5"}},
			},
		})
		require.NoError(t, err)

		assert.True(t, receipt.DirectTransfer)
		assert.Empty(t, receipt.ClaimCode)
		require.Len(t, fx.ledger.cryptoCalls, 1)
		// 1.5 ETH 换算为 wei
		assert.Equal(t, "1500000000000000000", fx.ledger.cryptoCalls[0].Amount)
		assert.Equal(t, "0xtx-crypto", receipt.TxRef)

		// 直转不登记领取记录
		_, err = fx.store.GetClaimByCode(receipt.ClaimCode)
		assert.Error(t, err)
	})

	t.Run("未注册收件人走领取码路径", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmClaim")
		fx.ledger.registration = ledger.Registration{}

		receipt, err := fx.svc.Send(ctx, &SendInput{
			From: "alice@dexmail.app",
			To:   []string{"newbie@dexmail.app"},
			Body: "welcome",
			Crypto: &domain.CryptoTransfer{
				Enabled: true,
				Assets:  []domain.CryptoAsset{{Type: domain.AssetETH, Amount: "0.1"}},
			},
		})
		require.NoError(t, err)

		assert.False(t, receipt.DirectTransfer)
		require.True(t, claim.ValidCode(receipt.ClaimCode))

		// 领取记录带交易引用落库，主键不能为空
		record, err := fx.store.GetClaimByCode(receipt.ClaimCode)
		require.NoError(t, err)
		assert.NotEmpty(t, record.ID)
		assert.Equal(t, "newbie@dexmail.app", record.Recipient)
		assert.Equal(t, receipt.TxRef, record.TxRef)
		assert.False(t, record.WasRegistered)
		assert.False(t, record.IsDirect)
	})

	t.Run("已注册未部署收件人记录注册快照", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmSnapshot")
		fx.ledger.registration = ledger.Registration{Registered: true, WalletDeployed: false}

		receipt, err := fx.svc.Send(ctx, &SendInput{
			From: "alice@dexmail.app",
			To:   []string{"pending@dexmail.app"},
			Body: "hi",
			Crypto: &domain.CryptoTransfer{
				Enabled: true,
				Assets:  []domain.CryptoAsset{{Type: domain.AssetETH, Amount: "0.5"}},
			},
		})
		require.NoError(t, err)
		assert.False(t, receipt.DirectTransfer)
		require.True(t, claim.ValidCode(receipt.ClaimCode))

		// 发送时刻已注册（只是钱包未部署），快照必须如实记录
		record, err := fx.store.GetClaimByCode(receipt.ClaimCode)
		require.NoError(t, err)
		assert.True(t, record.WasRegistered)
	})

	t.Run("注册状态查询失败偏向领取码路径", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmFailSafe")
		fx.ledger.registrationErr = errors.New("relayer timeout")

		receipt, err := fx.svc.Send(ctx, &SendInput{
			From: "alice@dexmail.app",
			To:   []string{"bob@dexmail.app"},
			Body: "x",
			Crypto: &domain.CryptoTransfer{
				Enabled: true,
				Assets:  []domain.CryptoAsset{{Type: domain.AssetETH, Amount: "1"}},
			},
		})
		require.NoError(t, err)
		assert.False(t, receipt.DirectTransfer)
		assert.NotEmpty(t, receipt.ClaimCode)
	})

	t.Run("外部收件人标记external并触发桥接", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmBridge")

		receipt, err := fx.svc.Send(ctx, &SendInput{
			From:    "alice@dexmail.app",
			To:      []string{"someone@gmail.com"},
			Subject: "hi outside",
			Body:    "hello",
		})
		require.NoError(t, err)

		require.Len(t, fx.ledger.indexCalls, 1)
		assert.True(t, fx.ledger.indexCalls[0].isExternal)
		assert.Equal(t, 1, receipt.BridgeAttempts)

		require.Len(t, fx.bridge.messages, 1)
		msg := fx.bridge.messages[0]
		assert.Equal(t, "someone@gmail.com", msg.To)
		assert.Equal(t, "alice@dexmail.app", msg.OriginalFrom)
	})

	t.Run("桥接失败不影响发送结果", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmBridgeFail")
		fx.bridge.err = errors.New("provider down")

		receipt, err := fx.svc.Send(ctx, &SendInput{
			From: "alice@dexmail.app",
			To:   []string{"someone@gmail.com"},
			Body: "hello",
		})
		require.NoError(t, err)
		assert.Equal(t, "0xtx-index", receipt.TxRef)
	})

	t.Run("映射登记失败只降级不中断", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmMapFail")
		fx.cidMap.saveErr = errors.New("disk full")

		receipt, err := fx.svc.Send(ctx, &SendInput{
			From: "alice@dexmail.app",
			To:   []string{"bob@dexmail.app"},
			Body: "still delivered",
		})
		require.NoError(t, err)
		assert.Equal(t, "0xtx-index", receipt.TxRef)
	})

	t.Run("账本写入失败整单失败", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmLedgerFail")
		fx.ledger.indexErr = errors.New("relayer rejected")

		_, err := fx.svc.Send(ctx, &SendInput{
			From: "alice@dexmail.app",
			To:   []string{"bob@dexmail.app"},
			Body: "x",
		})
		assert.Error(t, err)
	})

	t.Run("多收件人只有首位合并资产交易", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmMulti")
		fx.ledger.registration = ledger.Registration{Registered: true, WalletDeployed: true}

		_, err := fx.svc.Send(ctx, &SendInput{
			From: "alice@dexmail.app",
			To:   []string{"bob@dexmail.app", "carol@dexmail.app"},
			Body: "x",
			Crypto: &domain.CryptoTransfer{
				Enabled: true,
				Assets:  []domain.CryptoAsset{{Type: domain.AssetETH, Amount: "1"}},
			},
		})
		require.NoError(t, err)

		require.Len(t, fx.ledger.cryptoCalls, 1)
		assert.Equal(t, "bob@dexmail.app", fx.ledger.cryptoCalls[0].Recipient)
		require.Len(t, fx.ledger.indexCalls, 1)
		assert.Equal(t, "carol@dexmail.app", fx.ledger.indexCalls[0].recipient)
	})

	t.Run("次级资产失败逐笔暴露不回滚首笔", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmPartial")
		fx.ledger.registration = ledger.Registration{Registered: true, WalletDeployed: true}
		fx.ledger.transferErr = errors.New("out of gas")

		receipt, err := fx.svc.Send(ctx, &SendInput{
			From: "alice@dexmail.app",
			To:   []string{"bob@dexmail.app"},
			Body: "x",
			Crypto: &domain.CryptoTransfer{
				Enabled: true,
				Assets: []domain.CryptoAsset{
					{Type: domain.AssetETH, Amount: "1"},
					{Type: domain.AssetNFT, Token: "0xdead", TokenID: "42"},
				},
			},
		})
		require.NoError(t, err)

		require.Len(t, receipt.Assets, 2)
		assert.Empty(t, receipt.Assets[0].Err)
		assert.Equal(t, "0xtx-crypto", receipt.Assets[0].TxRef)
		assert.NotEmpty(t, receipt.Assets[1].Err)
	})

	t.Run("ERC20先授权再提交", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmERC20")
		fx.ledger.registration = ledger.Registration{Registered: true, WalletDeployed: true}

		_, err := fx.svc.Send(ctx, &SendInput{
			From: "alice@dexmail.app",
			To:   []string{"bob@dexmail.app"},
			Body: "x",
			Crypto: &domain.CryptoTransfer{
				Enabled: true,
				Assets:  []domain.CryptoAsset{{Type: domain.AssetERC20, Token: "0xtoken", Amount: "25"}},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"0xtoken"}, fx.ledger.approvals)
		require.Len(t, fx.ledger.cryptoCalls, 1)
		assert.Equal(t, "25000000000000000000", fx.ledger.cryptoCalls[0].Amount)
	})

	t.Run("非法资产类型拒绝", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmBadAsset")
		fx.ledger.registration = ledger.Registration{Registered: true, WalletDeployed: true}

		_, err := fx.svc.Send(ctx, &SendInput{
			From: "alice@dexmail.app",
			To:   []string{"bob@dexmail.app"},
			Body: "x",
			Crypto: &domain.CryptoTransfer{
				Enabled: true,
				Assets:  []domain.CryptoAsset{{Type: "dogecoin", Amount: "1"}},
			},
		})
		assert.ErrorIs(t, err, ErrInvalidAsset)
	})

	t.Run("发送成功后删除来源草稿", func(t *testing.T) {
		fx := newDeliveryFixture(t, "QmDraft")
		require.NoError(t, fx.store.SaveDraft(&domain.Draft{
			DraftID: "d1", Address: "alice@dexmail.app", Body: "draft body",
		}))

		_, err := fx.svc.Send(ctx, &SendInput{
			From:    "alice@dexmail.app",
			To:      []string{"bob@dexmail.app"},
			Body:    "final body",
			DraftID: "d1",
		})
		require.NoError(t, err)

		drafts, err := fx.store.ListDrafts("alice@dexmail.app")
		require.NoError(t, err)
		assert.Empty(t, drafts)
	})
}

func TestScaleAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		want    string
		wantErr bool
	}{
		{"整数", "1", "1000000000000000000", false},
		{"小数", "0.5", "500000000000000000", false},
		{"二进制可精确表示的小数", "0.25", "250000000000000000", false},
		{"零拒绝", "0", "", true},
		{"负数拒绝", "-1", "", true},
		{"非数字拒绝", "abc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scaleAmount(tt.amount, tokenDecimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIndexInbound(t *testing.T) {
	ctx := context.Background()
	fx := newDeliveryFixture(t, "QmInbound")

	receipt, err := fx.svc.IndexInbound(ctx, &bridge.InboundMail{
		From:     "outsider@gmail.com",
		To:       "bob@dexmail.app",
		Subject:  "external hello",
		TextBody: "body",
	})
	require.NoError(t, err)

	require.Len(t, fx.ledger.indexCalls, 1)
	call := fx.ledger.indexCalls[0]
	assert.Equal(t, "bob@dexmail.app", call.recipient)
	assert.True(t, call.isExternal)
	assert.False(t, call.hasCrypto)
	assert.Equal(t, "QmInbound", receipt.CID)
}

// promauto 指标挂默认 registry，整个测试进程只允许这一处
// NewMetrics，其余夹具一律传 nil。
func TestDeliveryMetrics(t *testing.T) {
	ctx := context.Background()
	metrics := monitoring.NewMetrics()

	fx := newDeliveryFixture(t, "QmMetered")
	fx.svc.metrics = metrics

	_, err := fx.svc.Send(ctx, &SendInput{
		From:    "alice@dexmail.app",
		To:      []string{"carol@other.org"},
		Subject: "metered",
		Body:    "hi",
		Crypto: &domain.CryptoTransfer{
			Enabled: true,
			Assets:  []domain.CryptoAsset{{Type: domain.AssetETH, Amount: "1"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MailSendsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ClaimsIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CryptoTransfers.WithLabelValues("eth", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BridgeDeliveries.WithLabelValues("success")))

	_, err = fx.svc.IndexInbound(ctx, &bridge.InboundMail{
		From: "outsider@gmail.com",
		To:   "bob@dexmail.app",
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BridgeInbound))
}
