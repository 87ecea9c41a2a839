package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix 服务名转环境变量前缀：datafeed-gateway -> DATAFEED_GATEWAY
func EnvPrefix(service string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(service))
}

// Load 只读一次配置，不监听
func Load(service string, out interface{}) (*viper.Viper, error) {
	v := newViper(service)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())
	return v, nil
}

// LoadAndWatch 读配置并热更新到 out；onChange 可为 nil
func LoadAndWatch(service string, out interface{}, onChange func()) (*viper.Viper, error) {
	v, err := Load(service, out)
	if err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("[%s] config file changed: %s", service, e.Name)

		if err := v.Unmarshal(out); err != nil {
			log.Printf("[%s] reload config error: %v", service, err)
			return
		}
		log.Printf("[%s] config reloaded OK", service)
		if onChange != nil {
			onChange()
		}
	})

	return v, nil
}

func newViper(service string) *viper.Viper {
	v := viper.New()
	// 约定：config/{service}.yaml
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// 环境变量覆盖，例如：
	//   DATAFEED_GATEWAY_HTTP_ADDR 覆盖 http.addr
	//   DATAFEED_GATEWAY_CRYPTOCOMPARE_API_KEY 覆盖 cryptocompare.api_key
	// AutomaticEnv 是在每次 Get 时读 env，所以 api key 改了不用重启
	v.SetEnvPrefix(EnvPrefix(service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}
