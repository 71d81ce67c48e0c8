// Package camera 1つの出力サーフェスに対するカメラ制御を担う
//
// # 責務
// - 映像入力デバイスの列挙と、要求された向き・サイズに最も合うデバイスの選択
// - メディアストリームのライフサイクル管理（オープン・再構成・クローズ）
// - ズーム・トーチ・ホワイトバランス・フォーカスの実行時適用
// - 表示中のフレームからの静止画撮影
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - ブラウザ・ネイティブなど異なるプラットフォームで同じカメラAPIを使いたい
// - UIフレームワークのライフサイクルからカメラの状態遷移を切り離したい
//
// # 仕様
//   - Resolver: デバイス列挙と制約の決定。要求した向きがなくても失敗しない
//   - Camera: Unmounted -> Opening -> Ready -> (Reconfiguring -> Ready | Closing -> Unmounted)、
//     Opening -> Error -> Unmounted の状態遷移
//   - 制御チャンネル: トラックが対応していない設定は黙って無視する
//   - 撮影: 一時停止中のフレームに対しては常に同じ結果を返す
//   - マウント失敗は Callbacks.OnMountError で通知し、呼び出し順序の誤りはエラーで返す
//
// # プラットフォーム
// MediaDevices / Stream / Track / Surface を実装したバックエンドを RegisterBackend で登録する。
// internal/platform/native は pion/mediadevices、internal/platform/browser は
// syscall/js を使う。テストには FakeDevices と FakeSurface を使う。
package camera
