package payclient

import "fmt"

// PayParams 微信 JSAPI 拉起支付参数
type PayParams struct {
	AppID     string `json:"appId"`
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// Artifact 下单产物。四种变体各对应一种收银台形态，
// 消费侧用类型开关穷举，新增变体时漏分支在编译期暴露。
type Artifact interface {
	isArtifact()
}

// QRCode 扫码串，渲染为二维码
type QRCode struct {
	Content string
}

// PayURL 跳转地址，整页导航
type PayURL struct {
	URL string
}

// AutoForm 自动提交表单，注入文档后提交
type AutoForm struct {
	HTML string
}

// BridgeParams 微信内置浏览器 JS 桥参数
type BridgeParams struct {
	Params PayParams
}

func (QRCode) isArtifact()       {}
func (PayURL) isArtifact()       {}
func (AutoForm) isArtifact()     {}
func (BridgeParams) isArtifact() {}

// Presenter 产物的呈现协作方，由宿主环境实现
type Presenter interface {
	RenderQR(content string) error
	Navigate(url string) error
	SubmitForm(html string) error
	InvokeBridge(params PayParams) error
}

// Dispatch 将产物派发给呈现方
func Dispatch(artifact Artifact, presenter Presenter) error {
	if presenter == nil {
		return fmt.Errorf("presenter is nil")
	}
	switch a := artifact.(type) {
	case QRCode:
		return presenter.RenderQR(a.Content)
	case PayURL:
		return presenter.Navigate(a.URL)
	case AutoForm:
		return presenter.SubmitForm(a.HTML)
	case BridgeParams:
		return presenter.InvokeBridge(a.Params)
	default:
		return fmt.Errorf("unknown payment artifact %T", artifact)
	}
}
