package main

import (
	"context"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"flashmart/internal/pkg/bootstrap"
	"flashmart/internal/pkg/eventbus"
	"flashmart/internal/pkg/lock"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/mq"
	accountapp "flashmart/internal/service/account/application"
	accountdomain "flashmart/internal/service/account/domain"
	accountinfra "flashmart/internal/service/account/infrastructure"
	inventoryapp "flashmart/internal/service/inventory/application"
	inventorydomain "flashmart/internal/service/inventory/domain"
	inventoryinfra "flashmart/internal/service/inventory/infrastructure"
	orderapp "flashmart/internal/service/order/application"
	orderdomain "flashmart/internal/service/order/domain"
	orderinfra "flashmart/internal/service/order/infrastructure"
	"flashmart/internal/service/order/interfaces"
	outboxapp "flashmart/internal/service/outbox/application"
	outboxdomain "flashmart/internal/service/outbox/domain"
	outboxinfra "flashmart/internal/service/outbox/infrastructure"
	outboxadapter "flashmart/internal/service/outbox/infrastructure/adapter"
	promotionapp "flashmart/internal/service/promotion/application"
	promotiondomain "flashmart/internal/service/promotion/domain"
	promotioninfra "flashmart/internal/service/promotion/infrastructure"
	"flashmart/internal/service/promotion/infrastructure/rule"
)

const serviceName = "order-service"

// stores 聚合了订单服务依赖的全部仓储实现。
type stores struct {
	options     inventorydomain.OptionRepository
	users       accountdomain.UserRepository
	coupons     promotiondomain.CouponRepository
	userCoupons promotiondomain.UserCouponRepository
	orders      orderdomain.OrderRepository
	deadLetters orderdomain.FailedCompensationRepository
	outbox      outboxdomain.Repository
	tx          orderdomain.TxManager
}

// buildStores 按配置选择 MySQL 或进程内存储。
// 进程内实现用于本地开发和演示，接口完全一致。
func buildStores(cfg *bootstrap.Config) *stores {
	if cfg.Infra.Mysql.Enabled {
		db, err := gorm.Open(gormmysql.Open(cfg.Infra.Mysql.DSN), &gorm.Config{})
		if err != nil {
			logger.Logger().Fatal().Err(err).Msg("failed to connect to mysql")
		}
		if err := db.AutoMigrate(
			&inventoryinfra.ProductOptionModel{},
			&accountinfra.UserModel{},
			&promotioninfra.CouponModel{},
			&promotioninfra.UserCouponModel{},
			&orderinfra.OrderModel{},
			&orderinfra.OrderItemModel{},
			&orderinfra.FailedCompensationModel{},
			&outboxinfra.OutboxEntryModel{},
		); err != nil {
			logger.Logger().Fatal().Err(err).Msg("failed to migrate schema")
		}
		return &stores{
			options:     inventoryinfra.NewGormOptionRepository(db),
			users:       accountinfra.NewGormUserRepository(db),
			coupons:     promotioninfra.NewGormCouponRepository(db),
			userCoupons: promotioninfra.NewGormUserCouponRepository(db),
			orders:      orderinfra.NewGormOrderRepository(db),
			deadLetters: orderinfra.NewGormFailedCompensationRepository(db),
			outbox:      outboxinfra.NewGormOutboxRepository(db),
			tx:          orderinfra.NewGormTxManager(db),
		}
	}

	orders := orderinfra.NewMemoryOrderRepository()
	outbox := outboxinfra.NewMemoryOutboxRepository()
	return &stores{
		options:     inventoryinfra.NewMemoryOptionRepository(),
		users:       accountinfra.NewMemoryUserRepository(),
		coupons:     promotioninfra.NewMemoryCouponRepository(),
		userCoupons: promotioninfra.NewMemoryUserCouponRepository(),
		orders:      orders,
		deadLetters: orderinfra.NewMemoryFailedCompensationRepository(),
		outbox:      outbox,
		tx:          orderinfra.NewMemoryTxManager(orders, outbox),
	}
}

// buildLocker 按配置选择优惠券发放的串行化实现。
func buildLocker(cfg *bootstrap.Config) lock.KeyLocker {
	switch cfg.Order.CouponLock {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Infra.Redis.Addr})
		return lock.NewRedisLocker(client)
	case "zookeeper":
		conn, _, err := zk.Connect(cfg.Infra.Zookeeper.Addrs, 5*time.Second)
		if err != nil {
			logger.Logger().Fatal().Err(err).Msg("failed to connect to zookeeper")
		}
		return lock.NewZkLocker(conn)
	default:
		return lock.NewKeyMutex()
	}
}

func main() {
	logger.Init(serviceName)
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	tracer := otel.Tracer(serviceName)
	st := buildStores(cfg)

	ruleEngine, err := rule.NewCELRuleEngineAdapter()
	if err != nil {
		logger.Logger().Fatal().Err(err).Msg("failed to initialize rule engine")
	}

	// 优惠券发放和订单取消共用同一个锁实现，锁键自带前缀互不干扰
	locks := buildLocker(cfg)

	inventoryLedger := inventoryapp.NewInventoryLedger(st.options, tracer)
	balanceLedger := accountapp.NewBalanceLedger(st.users, tracer)
	couponLedger := promotionapp.NewCouponLedger(st.coupons, st.userCoupons, locks, ruleEngine, tracer)

	bus := eventbus.New()
	service := orderapp.NewOrderApplicationService(
		inventoryLedger, balanceLedger, couponLedger,
		st.orders, st.deadLetters, st.tx, locks, bus, tracer,
	)

	writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NotificationTopic)
	publisher := outboxadapter.NewNotificationKafkaAdapter(writer)
	relay := outboxapp.NewRelay(st.outbox, publisher, outboxapp.RelayConfig{
		PollInterval: cfg.Order.Outbox.PollInterval,
		BatchSize:    cfg.Order.Outbox.BatchSize,
		MaxRetries:   cfg.Order.Outbox.MaxRetries,
		Concurrency:  cfg.Order.Outbox.Concurrency,
	}, tracer)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relay.Start(relayCtx)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8080,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewOrderHandler(service).RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			stopRelay()
			relay.Wait()
			if err := publisher.Close(); err != nil {
				logger.Logger().Error().Err(err).Msg("error closing kafka writer")
			}
		},
	})
}
